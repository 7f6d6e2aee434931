package core

import "errors"

var (
	// ErrNotFound is a recoverable cache or database miss.
	ErrNotFound = errors.New("not found")

	// ErrInterfaceParse means the contract does not match the expected
	// get-method interface. It is a classification result, not a fault.
	ErrInterfaceParse = errors.New("smc interface parse error")

	// ErrEventParse means a message body does not decode against the
	// expected token event schema.
	ErrEventParse = errors.New("event parse error")

	// ErrCollectionNotIndexed distinguishes an NFT item whose referred
	// collection has not been indexed yet from a plain classification
	// miss.
	ErrCollectionNotIndexed = errors.New("collection was not indexed yet")

	// ErrVM is a get-method execution fault (gas or runtime). Callers
	// classifying interfaces treat it the same as ErrInterfaceParse.
	ErrVM = errors.New("vm execution error")

	// ErrDB marks transient database failures that are safe to retry.
	ErrDB = errors.New("db error")
)
