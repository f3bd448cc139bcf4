package tenantcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus/stores/tenantcache"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus/stores/tenantdb"
	"github.com/jcpaschoal/volauth/business/sdk/dbtest"
	"github.com/jcpaschoal/volauth/business/sdk/sqldb"
	"github.com/jmoiron/sqlx"
)

// hookBeginner begins transactions that run beforeCommit just before they
// commit.
type hookBeginner struct {
	db           *sqlx.DB
	beforeCommit func()
}

func (b *hookBeginner) Begin(ctx context.Context) (sqldb.CommitRollbacker, error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return hookTx{Tx: tx, beforeCommit: b.beforeCommit}, nil
}

type hookTx struct {
	*sqlx.Tx
	beforeCommit func()
}

func (tx hookTx) Commit() error {
	if tx.beforeCommit != nil {
		tx.beforeCommit()
	}

	return tx.Tx.Commit()
}

func Test_Committed(t *testing.T) {
	db := dbtest.New(t, "committed")
	ctx := context.Background()

	// Reads go through a second connection so they see committed rows while
	// a write transaction is open.
	reader, err := sqldb.Open(sqldb.Config{Driver: sqldb.DriverSQLite, Path: db.Path})
	if err != nil {
		t.Fatalf("Should be able to open a second connection: %s", err)
	}
	t.Cleanup(func() { reader.Close() })

	store := tenantcache.NewStore(db.Log, tenantdb.NewStore(db.Log, reader), time.Minute)

	bgn := hookBeginner{db: db.DB}
	core := tenantbus.NewCore(db.Log, &bgn, store, nil)

	nt := tenantbus.NewTenant{
		Name:              "tenant1",
		DefaultDatastore:  "datastore1",
		DefaultPrivileges: tenantbus.Privilege{MountVolume: true},
	}

	tnt, err := core.Create(ctx, nt)
	if err != nil {
		t.Fatalf("Should be able to create tenant: %s", err)
	}

	// A reader outside the transaction caches the row the transaction is
	// about to replace.
	bgn.beforeCommit = func() {
		p, err := core.QueryPrivilege(ctx, tnt.ID, "datastore1")
		if err != nil {
			t.Errorf("Should be able to read the privilege before the commit: %s", err)
			return
		}

		if !p.MountVolume {
			t.Errorf("Should read the committed row before the commit")
		}
	}

	revoked := []tenantbus.Privilege{{Datastore: "datastore1"}}
	if err := core.SetDatastoreAccessPrivileges(ctx, tnt.ID, revoked); err != nil {
		t.Fatalf("Should be able to revoke the privilege: %s", err)
	}

	bgn.beforeCommit = nil

	p, err := core.QueryPrivilege(ctx, tnt.ID, "datastore1")
	if err != nil {
		t.Fatalf("Should be able to query privilege: %s", err)
	}

	if p.MountVolume {
		t.Fatalf("Should not serve a privilege cached before the revoke committed")
	}

	// A store not bound to a transaction has nothing to drop.
	store.Committed()
}
