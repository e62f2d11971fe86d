package distributor

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

// Transfer moves Amount of Mint from token account From to token account To. Owner is the
// wallet with authority over From. ToOwner is the wallet To belongs to, so a missing
// destination account can be created.
type Transfer struct {
	From     solana.PublicKey
	To       solana.PublicKey
	ToOwner  solana.PublicKey
	Owner    solana.PublicKey
	Mint     solana.PublicKey
	Amount   uint64
	Decimals uint8
}

// ErrTransferUnconfirmed is wrapped by TokenTransferer errors when the transfers were submitted
// but their outcome is unknown. They may still land, so callers must not undo the state they
// were paying for.
var ErrTransferUnconfirmed = errors.New("transfer submitted but not confirmed")

// TokenTransferer executes token movements. All transfers passed to one call succeed or fail
// together.
type TokenTransferer interface {
	Transfer(ctx context.Context, transfers ...Transfer) (solana.Signature, error)
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// AccountStorage allocates the storage a tree occupies and charges it to a payer.
type AccountStorage interface {
	Create(ctx context.Context, account solana.PublicKey, size int, owner, payer solana.PublicKey) error
	Resize(ctx context.Context, account solana.PublicKey, newSize int, payer solana.PublicKey) error
	Close(ctx context.Context, account, beneficiary solana.PublicKey) error
}

// GatekeeperVerifier checks that pass is a valid identity pass for subject issued under network.
// Rejections are returned as tree.RuleError values; any other error is treated as transient.
type GatekeeperVerifier interface {
	VerifyPass(ctx context.Context, pass, subject, network solana.PublicKey) error
}

// Custody resolves the authority and vault that hold a tree's funds.
type Custody interface {
	Authority(treeAddress solana.PublicKey) solana.PublicKey
	Vault(treeAddress, mint solana.PublicKey) (solana.PublicKey, error)
}

// Store persists trees. Mutations run fn against the locked tree and commit only when fn
// returns nil; on error the stored tree is left untouched.
type Store interface {
	Get(ctx context.Context, address solana.PublicKey) (*tree.Tree, error)
	Insert(ctx context.Context, address solana.PublicKey, t *tree.Tree, fn func(ctx context.Context) error) error
	Update(ctx context.Context, address solana.PublicKey, fn func(ctx context.Context, t *tree.Tree) error) error
	Delete(ctx context.Context, address solana.PublicKey, fn func(ctx context.Context, t *tree.Tree) error) error
}

// Notifier is told about every committed event.
type Notifier interface {
	Notify(ctx context.Context, e events.Event) error
}

// Archiver keeps the final persisted form of a tree before it is closed.
type Archiver interface {
	Archive(ctx context.Context, address solana.PublicKey, data []byte) error
}
