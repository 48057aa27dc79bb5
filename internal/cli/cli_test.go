package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
	"github.com/tbourn/go-loyalty-backend/internal/services"
)

// setEnv points the commands at a fresh sqlite file.
func setEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loyalty.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", path)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("TELEGRAM_TOKEN", "")
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--env-file", ""}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestMigrate_CreatesSchema(t *testing.T) {
	path := setEnv(t)
	out, err := run(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if out != "schema up to date" {
		t.Fatalf("out=%q", out)
	}

	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB(db)
	for _, m := range []any{&domain.Account{}, &domain.Order{}, &domain.Redemption{}, &domain.StaffSession{}} {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("missing table for %T", m)
		}
	}
}

func TestStaffAddAndLink(t *testing.T) {
	path := setEnv(t)
	id, err := run(t, "staff", "add", "Lucía")
	if err != nil || id == "" {
		t.Fatalf("staff add: %q %v", id, err)
	}
	out, err := run(t, "staff", "link", id, "4242")
	if err != nil {
		t.Fatalf("staff link: %v", err)
	}
	if !strings.Contains(out, "4242") {
		t.Fatalf("out=%q", out)
	}

	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB(db)
	s, err := repo.GetStaffSession(context.Background(), db, "4242")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.StaffID != id || s.OnDuty {
		t.Fatalf("session=%+v", s)
	}

	if _, err := run(t, "staff", "link", "nope", "99"); err == nil {
		t.Fatal("linking an unknown staff member should fail")
	}
}

func TestCatalogAndRewardCommands(t *testing.T) {
	path := setEnv(t)
	if _, err := run(t, "catalog", "set", "cafe", "Café", "2.5", "10"); err != nil {
		t.Fatalf("catalog set: %v", err)
	}
	if _, err := run(t, "catalog", "set", "cafe", "Café", "abc", "10"); err == nil {
		t.Fatal("bad price accepted")
	}
	rid, err := run(t, "reward", "add", "Postre", "150", "--stock", "3")
	if err != nil || rid == "" {
		t.Fatalf("reward add: %q %v", rid, err)
	}
	if _, err := run(t, "reward", "add", "Gratis", "0"); err == nil {
		t.Fatal("zero cost accepted")
	}

	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB(db)
	ctx := context.Background()
	items, err := repo.GetCatalogItems(ctx, db, []string{"cafe"})
	if err != nil {
		t.Fatal(err)
	}
	if it := items["cafe"]; it.Price.StringFixed(2) != "2.50" || it.Points != 10 || !it.Available {
		t.Fatalf("item=%+v", it)
	}
	rw, err := repo.GetReward(ctx, db, rid)
	if err != nil {
		t.Fatal(err)
	}
	if rw.PointsCost != 150 || rw.Stock == nil || *rw.Stock != 3 || !rw.Enabled {
		t.Fatalf("reward=%+v", rw)
	}
}

func TestSweep_CancelsStalePending(t *testing.T) {
	path := setEnv(t)
	if _, err := run(t, "catalog", "set", "cafe", "Café", "2.50", "10"); err != nil {
		t.Fatal(err)
	}

	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(cfg, db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	o, err := a.orders.Create(ctx, services.CreateOrderInput{
		Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	a.dispatcher.Wait()
	closeDB(db)

	time.Sleep(10 * time.Millisecond)
	out, err := run(t, "sweep", "--older-than", "1ms")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if out != "cancelled 1 pending orders" {
		t.Fatalf("out=%q", out)
	}

	db, err = repo.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB(db)
	got, err := repo.GetOrder(ctx, db, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	setEnv(t)
	t.Setenv("DB_DRIVER", "mongo")
	if _, err := run(t, "migrate"); err == nil {
		t.Fatal("expected config error")
	}
}
