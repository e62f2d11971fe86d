package distributor

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

// TreeView is a read-only snapshot of a tree.
type TreeView struct {
	Address               solana.PublicKey  `json:"address"`
	Authority             solana.PublicKey  `json:"authority"`
	BatchID               string            `json:"batch_id"`
	Version               uint64            `json:"version"`
	Status                tree.Status       `json:"status"`
	MerkleRoot            string            `json:"merkle_root"`
	Mint                  solana.PublicKey  `json:"mint"`
	TokenVault            solana.PublicKey  `json:"token_vault"`
	AllowClaims           bool              `json:"allow_claims"`
	TotalNumberRecipients uint64            `json:"total_number_recipients"`
	NumberDistributed     uint64            `json:"number_distributed"`
	StartTS               int64             `json:"start_ts"`
	EndTS                 *int64            `json:"end_ts"`
	GatekeeperNetwork     *solana.PublicKey `json:"gatekeeper_network"`
	BitmapWords           int               `json:"bitmap_words"`
	ExpansionNeeded       uint64            `json:"expansion_needed"`
	AccountSize           int               `json:"account_size"`
}

func NewTreeView(addr solana.PublicKey, t *tree.Tree) TreeView {
	v := TreeView{
		Address:               addr,
		Authority:             t.Authority(),
		BatchID:               t.BatchID(),
		Version:               t.Version(),
		Status:                t.Status(),
		MerkleRoot:            t.MerkleRoot().String(),
		Mint:                  t.Mint(),
		TokenVault:            t.TokenVault(),
		AllowClaims:           t.AllowClaims(),
		TotalNumberRecipients: t.TotalNumberRecipients(),
		NumberDistributed:     t.NumberDistributed(),
		StartTS:               t.StartTS(),
		BitmapWords:           t.BitmapWords(),
		ExpansionNeeded:       t.ExpansionNeeded(),
		AccountSize:           t.AccountSize(),
	}
	if t.HasEnd() {
		end := t.EndTS()
		v.EndTS = &end
	}
	if network, ok := t.GatekeeperNetwork(); ok {
		v.GatekeeperNetwork = &network
	}
	return v
}

// Get returns a snapshot of the tree named by ref.
func (s *Service) Get(ctx context.Context, ref TreeRef) (*TreeView, error) {
	addr, err := s.Address(ref)
	if err != nil {
		return nil, err
	}
	t, err := s.cfg.Store.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	v := NewTreeView(addr, t)
	return &v, nil
}

// IsPaid reports whether entry index of the tree named by ref has been paid.
func (s *Service) IsPaid(ctx context.Context, ref TreeRef, index uint64) (bool, error) {
	addr, err := s.Address(ref)
	if err != nil {
		return false, err
	}
	t, err := s.cfg.Store.Get(ctx, addr)
	if err != nil {
		return false, err
	}
	return t.IsPaid(index)
}
