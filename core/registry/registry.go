/*Package registry provides a persistent registry of JSON objects in the
un0 meta schema. It backs the cached token secret, the generated schema
documents and other bookkeeping values.
*/
package registry

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/notorm-tech/un0/core/csql"
)

// Registry provides a persistent registry of objects in a sql database.
type Registry struct {
	db *csql.DB
}

// New creates a new registry for the specified database. The backing
// table is created in the un0 meta schema if it does not exist yet.
func New(db *csql.DB) Registry {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + csql.MetaSchema + `."_registry_"
(key VARCHAR NOT NULL,
value JSON NOT NULL,
timestamp TIMESTAMP NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		panic(err)
	}
	return Registry{db: db}
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry Registry
}

// Accessor returns a registry accessor with prefix
func (r Registry) Accessor(prefix string) Accessor {
	return Accessor{Prefix: prefix, Registry: r}
}

// Read reads a value from the registry. It returns the time when the
// value was written, or a zero timestamp if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(key string, value interface{}) (time.Time, error) {
	var (
		rawValue  json.RawMessage
		timestamp time.Time
	)
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	err := r.Registry.db.QueryRow(
		`SELECT value, timestamp FROM `+csql.MetaSchema+`."_registry_" WHERE key=$1;`,
		key).Scan(&rawValue, &timestamp)
	if err == csql.ErrNoRows {
		return timestamp, nil
	}
	if err != nil {
		return timestamp, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	err = json.Unmarshal(rawValue, &value)
	return timestamp, err
}

// Write writes a value into the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	now := time.Now().UTC()
	res, err := r.Registry.db.Exec(
		`INSERT INTO `+csql.MetaSchema+`."_registry_"(key,value,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=$3;`,
		key, string(body), now)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", key)
	}
	return nil
}

// Delete deletes a value from the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Delete(key string) error {
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	_, err := r.Registry.db.Exec(
		`DELETE FROM `+csql.MetaSchema+`."_registry_" WHERE key=$1;`, key)
	return err
}
