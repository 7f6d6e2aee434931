package detector

import (
	"context"
	"encoding/base64"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/kdimentionaltree/ton-index-worker/abi"
	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.DetectorService = (*Service)(nil)

const defaultEntityCacheCapacity = 1 << 20

// getterFunc executes one get method against the given code and data.
// It is a field so tests can substitute the virtual machine.
type getterFunc func(ctx context.Context, a *addr.Address, codeBOC, dataBOC []byte, desc abi.GetMethodDesc, args abi.VmStack) (abi.VmStack, error)

type Service struct {
	*app.DetectorConfig

	cfgBase64 string
	caches    *caches

	invocations atomic.Uint64

	execGetter getterFunc
}

func NewService(cfg *app.DetectorConfig) *Service {
	s := &Service{DetectorConfig: cfg}

	capacity := cfg.EntityCacheCapacity
	if capacity == 0 {
		capacity = defaultEntityCacheCapacity
	}

	s.cfgBase64 = base64.StdEncoding.EncodeToString(cfg.ConfigBOC)
	s.caches = newCaches(cfg.EntityRepo, capacity)
	s.execGetter = s.emulateGetter

	return s
}

func (s *Service) VMInvocations() uint64 {
	return s.invocations.Load()
}

// emulateGetter runs the get method on a fresh VM seeded with the
// account address and wall-clock now.
func (s *Service) emulateGetter(ctx context.Context, a *addr.Address, codeBOC, dataBOC []byte, desc abi.GetMethodDesc, args abi.VmStack) (abi.VmStack, error) {
	s.invocations.Add(1)

	e, err := abi.NewEmulatorBase64(a.MustToTonutils(),
		base64.StdEncoding.EncodeToString(codeBOC),
		base64.StdEncoding.EncodeToString(dataBOC),
		s.cfgBase64)
	if err != nil {
		return nil, errors.Wrap(err, "new emulator")
	}

	ret, err := e.RunGetMethod(ctx, desc.Name, args, desc.ReturnValues)
	switch {
	case errors.Is(err, abi.ErrStackMismatch):
		return nil, errors.Wrapf(core.ErrInterfaceParse, "%s: %s", desc.Name, err.Error())
	case err != nil:
		return nil, errors.Wrapf(core.ErrVM, "%s: %s", desc.Name, err.Error())
	}
	return ret, nil
}

// runGetter executes a getter on an observed account state.
func (s *Service) runGetter(ctx context.Context, acc *core.AccountState, desc abi.GetMethodDesc, args abi.VmStack) (abi.VmStack, error) {
	if len(acc.Code) == 0 || len(acc.Data) == 0 {
		return nil, errors.Wrap(core.ErrInterfaceParse, "no account code or data")
	}
	return s.execGetter(ctx, &acc.Address, acc.Code, acc.Data, desc, args)
}

// precheck consults the code-hash verdict and, when unknown, the get
// methods dictionary of the code cell. Known-false fails fast.
func (s *Service) precheck(acc *core.AccountState, kind core.EntityKind, method string) error {
	if verdict, known := s.caches.checkCodeHash(acc.CodeHash, kind); known {
		if !verdict {
			return errors.Wrapf(core.ErrInterfaceParse, "code hash is not a %s", kind)
		}
		return nil
	}

	// a parsable code cell that lacks the method entry fails fast; the
	// VM settles everything else
	if code, err := cell.FromBOC(acc.Code); err == nil && !abi.HasGetMethod(code, method) {
		s.caches.setCodeHash(acc.CodeHash, kind, false)
		return errors.Wrapf(core.ErrInterfaceParse, "code has no %s", method)
	}
	return nil
}

// Detect tries every interface in turn and returns all matches.
// Classification misses are swallowed; other faults abort.
func (s *Service) Detect(ctx context.Context, acc *core.AccountState) ([]core.Entity, error) {
	var ret []core.Entity

	type detectFn func(context.Context, *core.AccountState) (core.Entity, error)

	detectors := []detectFn{
		func(ctx context.Context, acc *core.AccountState) (core.Entity, error) {
			return s.DetectJettonMaster(ctx, acc)
		},
		func(ctx context.Context, acc *core.AccountState) (core.Entity, error) {
			return s.DetectJettonWallet(ctx, acc)
		},
		func(ctx context.Context, acc *core.AccountState) (core.Entity, error) {
			return s.DetectNFTCollection(ctx, acc)
		},
		func(ctx context.Context, acc *core.AccountState) (core.Entity, error) {
			return s.DetectNFTItem(ctx, acc)
		},
	}

	for _, detect := range detectors {
		e, err := detect(ctx, acc)
		switch {
		case err == nil:
			ret = append(ret, e)

		case errors.Is(err, core.ErrInterfaceParse),
			errors.Is(err, core.ErrVM),
			errors.Is(err, core.ErrCollectionNotIndexed):
			continue

		default:
			return nil, err
		}
	}

	return ret, nil
}
