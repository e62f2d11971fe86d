package store

import (
	"context"
	"os"
	"testing"

	apitesting "github.com/malbeclabs/dispatch/api/testing"
	dispatchtesting "github.com/malbeclabs/dispatch/utils/pkg/testing"
)

var testDB *apitesting.DB

func TestMain(m *testing.M) {
	log := dispatchtesting.NewLogger()

	var err error
	testDB, err = apitesting.NewDB(context.Background(), log, nil)
	if err != nil {
		log.Error("failed to start PostgreSQL container", "error", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}
