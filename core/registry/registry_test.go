package registry

import (
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"

	"github.com/notorm-tech/un0/core/csql"
)

// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type testService struct {
	Postgres string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	registry Registry
}

var service testService

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&service); err != nil {
		// no database configured, skip the package
		os.Exit(0)
	}

	db, err := sql.Open("postgres", service.Postgres)
	if err != nil {
		panic(err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		panic(err)
	}
	db.Exec("CREATE SCHEMA IF NOT EXISTS " + csql.MetaSchema + ";")

	service.registry = New(&csql.DB{DB: db})
	os.Exit(m.Run())
}

func TestRegistryRoundtrip(t *testing.T) {
	type pair struct {
		A string
		B string
	}

	accessor := service.registry.Accessor("_test_")
	require.NoError(t, accessor.Delete("roundtrip"))

	// reading a missing key returns a zero timestamp, no error
	var nothing pair
	createdAt, err := accessor.Read("roundtrip", &nothing)
	require.NoError(t, err)
	assert.True(t, createdAt.IsZero())

	now := time.Now()
	write := pair{A: "Hello", B: "World"}
	require.NoError(t, accessor.Write("roundtrip", write))

	var read pair
	createdAt, err = accessor.Read("roundtrip", &read)
	require.NoError(t, err)
	assert.Equal(t, write, read)
	assert.Less(t, createdAt.Sub(now), time.Minute)

	// writing again replaces the value
	write.B = "Replaced"
	require.NoError(t, accessor.Write("roundtrip", write))
	_, err = accessor.Read("roundtrip", &read)
	require.NoError(t, err)
	assert.Equal(t, "Replaced", read.B)

	require.NoError(t, accessor.Delete("roundtrip"))
}

func TestAccessorPrefix(t *testing.T) {
	plain := service.registry.Accessor("")
	prefixed := service.registry.Accessor("app")

	require.NoError(t, prefixed.Write("setting", 42))
	defer prefixed.Delete("setting")

	// the prefixed key is invisible without the prefix
	var value int
	createdAt, err := plain.Read("setting", &value)
	require.NoError(t, err)
	assert.True(t, createdAt.IsZero())

	_, err = prefixed.Read("setting", &value)
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}
