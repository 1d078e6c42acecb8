package ddl

import "fmt"

// MetaTablesSQL creates the un0 meta tables: tabletype identifies every
// mapped table, related_object holds the ULID primary key of every
// mapped row so attributes, queries and reports have a single point of
// reference, and the filterfield tables describe the user-defined
// filtering surface.
func (c Config) MetaTablesSQL() string {
	return fmt.Sprintf(`
SET ROLE %s;
CREATE TABLE IF NOT EXISTS un0.tabletype (
    id INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    db_schema VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    CONSTRAINT uq_tabletype_schema_name UNIQUE (db_schema, name)
);
COMMENT ON TABLE un0.tabletype IS 'Identifies the mapped tables in the database';

CREATE TABLE IF NOT EXISTS un0.related_object (
    id CHAR(26) PRIMARY KEY,
    tabletype_id INT NOT NULL REFERENCES un0.tabletype(id) ON DELETE CASCADE
);
COMMENT ON TABLE un0.related_object IS
    'Related Objects provide the primary key of mapped rows, a single point of reference for attributes, queries, workflows, and reports';

CREATE TABLE IF NOT EXISTS un0.filterfield (
    id INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    accessor VARCHAR(255) NOT NULL,
    label TEXT NOT NULL,
    value_type VARCHAR(26) NOT NULL,
    lookups TEXT[] NOT NULL,
    CONSTRAINT uq_filterfield_accessor_label UNIQUE (accessor, label)
);
COMMENT ON TABLE un0.filterfield IS 'Used to enable user-defined filtering of mapped tables';

CREATE TABLE IF NOT EXISTS un0.filterfield_tabletype (
    filterfield_id INT NOT NULL REFERENCES un0.filterfield(id) ON DELETE CASCADE,
    tabletype_id INT NOT NULL REFERENCES un0.tabletype(id) ON DELETE CASCADE,
    PRIMARY KEY (filterfield_id, tabletype_id)
);
CREATE INDEX IF NOT EXISTS ix_filterfield_tabletype
    ON un0.filterfield_tabletype(filterfield_id, tabletype_id);`, c.admin())
}

// InsertRelatedObjectFunctionSQL creates the trigger function that
// mints the ULID primary key of a mapped row and records it in
// un0.related_object. Tables install it as a BEFORE INSERT trigger with
// their tabletype id as trigger argument.
func (c Config) InsertRelatedObjectFunctionSQL() string {
	return fmt.Sprintf(`
SET ROLE %s;
CREATE OR REPLACE FUNCTION un0.insert_related_object()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
DECLARE
    rel_id CHAR(26);
BEGIN
    IF NEW.id IS NULL OR NEW.id = '' THEN
        INSERT INTO un0.related_object (id, tabletype_id)
        VALUES (un0.generate_ulid(), TG_ARGV[0]::INT)
        RETURNING id INTO rel_id;
        NEW.id := rel_id;
    ELSE
        INSERT INTO un0.related_object (id, tabletype_id)
        VALUES (NEW.id, TG_ARGV[0]::INT)
        ON CONFLICT (id) DO NOTHING;
    END IF;
    RETURN NEW;
END;
$$;`, c.admin())
}

// InsertTableTypeSQL records a mapped table in un0.tabletype.
func InsertTableTypeSQL(schema, table string) string {
	return fmt.Sprintf(`
INSERT INTO un0.tabletype (db_schema, name)
VALUES ('%s', '%s')
ON CONFLICT ON CONSTRAINT uq_tabletype_schema_name DO NOTHING;`, schema, table)
}

// RelatedObjectTriggerSQL installs the ULID minting trigger on a mapped
// table. The tabletype id is resolved at creation time.
func RelatedObjectTriggerSQL(schema, table string) string {
	return fmt.Sprintf(`
DO $$
DECLARE
    tt_id INT;
BEGIN
    SELECT id INTO tt_id FROM un0.tabletype WHERE db_schema = '%[1]s' AND name = '%[2]s';
    EXECUTE format('CREATE OR REPLACE TRIGGER %[2]s_insert_related_object_trigger
        BEFORE INSERT ON %[1]s.%[3]s
        FOR EACH ROW
        EXECUTE FUNCTION un0.insert_related_object(%%s)', tt_id);
END $$;`, schema, table, quoteIdent(table))
}

// SetModifiedFunctionSQL creates the trigger function maintaining the
// modified_at and modified_by_id audit columns.
func (c Config) SetModifiedFunctionSQL() string {
	return fmt.Sprintf(`
SET ROLE %s;
CREATE OR REPLACE FUNCTION un0.set_modified()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
BEGIN
    NEW.modified_at := current_timestamp;
    IF current_setting('rls_var.user_id', true) IS NOT NULL
        AND current_setting('rls_var.user_id', true) <> '' THEN
        NEW.modified_by_id := current_setting('rls_var.user_id', true);
    END IF;
    RETURN NEW;
END;
$$;`, c.admin())
}
