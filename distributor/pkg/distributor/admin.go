package distributor

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/metrics"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

// AdminRequest identifies a tree and the signer of an administrator operation.
type AdminRequest struct {
	Tree   TreeRef
	Signer solana.PublicKey
}

type ExpandResult struct {
	Address     solana.PublicKey
	Added       uint64
	BitmapWords int
	Status      tree.Status
}

// Expand grows the bitmap of an under-allocated tree by one step, charging the added storage
// to the signer.
func (s *Service) Expand(ctx context.Context, req AdminRequest) (res *ExpandResult, err error) {
	defer func(start time.Time) { err = s.observe("expand", start, err) }(time.Now())

	addr, err := s.Address(req.Tree)
	if err != nil {
		return nil, err
	}
	var committed *tree.Tree
	var added uint64
	err = s.cfg.Store.Update(ctx, addr, func(ctx context.Context, t *tree.Tree) error {
		if err := t.CheckAuthority(req.Signer); err != nil {
			return err
		}
		var err error
		if added, err = t.Expand(); err != nil {
			return err
		}
		if err := s.cfg.Storage.Resize(ctx, addr, t.AccountSize(), req.Signer); err != nil {
			return fmt.Errorf("failed to resize tree storage: %w", err)
		}
		committed = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BitmapExpansionsTotal.Inc()
	s.log.Info("distributor: bitmap expanded", "tree", addr, "added", added,
		"words", committed.BitmapWords(), "status", committed.Status())
	s.publish(ctx, s.event(events.TypeExpanded, addr, committed))

	return &ExpandResult{
		Address:     addr,
		Added:       added,
		BitmapWords: committed.BitmapWords(),
		Status:      committed.Status(),
	}, nil
}

// Pause stops payments on an active tree.
func (s *Service) Pause(ctx context.Context, req AdminRequest) (status tree.Status, err error) {
	defer func(start time.Time) { err = s.observe("pause", start, err) }(time.Now())
	return s.transition(ctx, req, events.TypePaused, (*tree.Tree).Pause)
}

// Resume re-enables payments on a paused tree.
func (s *Service) Resume(ctx context.Context, req AdminRequest) (status tree.Status, err error) {
	defer func(start time.Time) { err = s.observe("resume", start, err) }(time.Now())
	return s.transition(ctx, req, events.TypeResumed, (*tree.Tree).Resume)
}

func (s *Service) transition(ctx context.Context, req AdminRequest, typ events.Type, apply func(*tree.Tree) error) (tree.Status, error) {
	addr, err := s.Address(req.Tree)
	if err != nil {
		return 0, err
	}
	var committed *tree.Tree
	err = s.cfg.Store.Update(ctx, addr, func(ctx context.Context, t *tree.Tree) error {
		if err := t.CheckAuthority(req.Signer); err != nil {
			return err
		}
		if err := apply(t); err != nil {
			return err
		}
		committed = t
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("distributor: status changed", "tree", addr, "event", typ, "status", committed.Status())
	s.publish(ctx, s.event(typ, addr, committed))
	return committed.Status(), nil
}

type CancelResult struct {
	Address           solana.PublicKey
	Refunded          uint64
	NumberDistributed uint64
	Signature         solana.Signature
	Pending           bool
}

// Cancel ends a distribution and returns the whole vault balance to the authority.
func (s *Service) Cancel(ctx context.Context, req AdminRequest) (res *CancelResult, err error) {
	defer func(start time.Time) { err = s.observe("cancel", start, err) }(time.Now())

	addr, err := s.Address(req.Tree)
	if err != nil {
		return nil, err
	}
	var (
		result      = CancelResult{Address: addr}
		committed   *tree.Tree
		transferred bool
	)
	err = s.cfg.Store.Update(ctx, addr, func(ctx context.Context, t *tree.Tree) error {
		if err := t.CheckAuthority(req.Signer); err != nil {
			return err
		}
		vault, err := s.vault(addr, t)
		if err != nil {
			return err
		}
		if err := t.Cancel(); err != nil {
			return err
		}
		committed = t
		result.NumberDistributed = t.NumberDistributed()

		balance, err := s.cfg.Tokens.Balance(ctx, vault)
		if err != nil {
			return fmt.Errorf("failed to read vault balance: %w", err)
		}
		if balance == 0 {
			return nil
		}
		dest, err := tokenAccount(t.Authority(), t.Mint())
		if err != nil {
			return err
		}
		result.Signature, result.Pending, err = s.transfer(ctx, "cancel", addr, Transfer{
			From:     vault,
			To:       dest,
			ToOwner:  t.Authority(),
			Owner:    s.cfg.Custody.Authority(addr),
			Mint:     t.Mint(),
			Amount:   balance,
			Decimals: s.cfg.Decimals,
		})
		if err != nil {
			return fmt.Errorf("failed to refund vault: %w", err)
		}
		transferred = true
		result.Refunded = balance
		return nil
	})
	if err != nil {
		if transferred {
			s.unreconciled("cancel", addr, result.Signature, err)
		}
		return nil, err
	}

	s.log.Info("distributor: distribution cancelled", "tree", addr, "distributed", result.NumberDistributed,
		"total", committed.TotalNumberRecipients(), "refunded", result.Refunded)
	e := s.event(events.TypeCancelled, addr, committed)
	e.Amount = result.Refunded
	if transferred {
		e.Signature = result.Signature.String()
	}
	s.publish(ctx, e)

	return &result, nil
}

// Reclaim releases the bitmap storage of a finished tree back to the authority.
func (s *Service) Reclaim(ctx context.Context, req AdminRequest) (size int, err error) {
	defer func(start time.Time) { err = s.observe("reclaim", start, err) }(time.Now())

	addr, err := s.Address(req.Tree)
	if err != nil {
		return 0, err
	}
	var committed *tree.Tree
	err = s.cfg.Store.Update(ctx, addr, func(ctx context.Context, t *tree.Tree) error {
		if err := t.CheckAuthority(req.Signer); err != nil {
			return err
		}
		if err := t.Reclaim(); err != nil {
			return err
		}
		if err := s.cfg.Storage.Resize(ctx, addr, t.AccountSize(), t.Authority()); err != nil {
			return fmt.Errorf("failed to shrink tree storage: %w", err)
		}
		committed = t
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("distributor: bitmap reclaimed", "tree", addr, "size", committed.AccountSize())
	s.publish(ctx, s.event(events.TypeReclaimed, addr, committed))
	return committed.AccountSize(), nil
}

// Close deletes a finished tree and releases its storage to the authority. The caller must
// acknowledge that this cannot be undone.
func (s *Service) Close(ctx context.Context, req AdminRequest, acknowledgeIrreversible bool) (err error) {
	defer func(start time.Time) { err = s.observe("close", start, err) }(time.Now())

	addr, err := s.Address(req.Tree)
	if err != nil {
		return err
	}
	var closed *tree.Tree
	err = s.cfg.Store.Delete(ctx, addr, func(ctx context.Context, t *tree.Tree) error {
		if err := t.CheckAuthority(req.Signer); err != nil {
			return err
		}
		if err := t.CheckClose(acknowledgeIrreversible); err != nil {
			return err
		}
		if s.cfg.Archiver != nil {
			data, err := tree.Encode(t)
			if err != nil {
				return err
			}
			if err := s.cfg.Archiver.Archive(ctx, addr, data); err != nil {
				return fmt.Errorf("failed to archive tree: %w", err)
			}
		}
		if err := s.cfg.Storage.Close(ctx, addr, t.Authority()); err != nil {
			return fmt.Errorf("failed to release tree storage: %w", err)
		}
		closed = t
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("distributor: tree closed", "tree", addr, "status", closed.Status())
	s.publish(ctx, s.event(events.TypeClosed, addr, closed))
	return nil
}
