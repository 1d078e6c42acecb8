package ddl

import "fmt"

// AuditMode selects how changes to a mapped table are recorded.
type AuditMode string

// all supported audit modes
const (
	// AuditRecordVersion tracks changes through the supa_audit
	// record_version table.
	AuditRecordVersion AuditMode = "record_version"
	// AuditHistory maintains a full history copy of the table in the
	// audit schema.
	AuditHistory AuditMode = "history"
	// AuditNone disables auditing.
	AuditNone AuditMode = "none"
)

// RecordVersionAuditSQL enables supa_audit tracking for a table.
func RecordVersionAuditSQL(schema, table string) string {
	return fmt.Sprintf(`SELECT audit.enable_tracking('%s.%s'::regclass);`, schema, quoteIdent(table))
}

// HistoryTableAuditSQL creates the history copy of a table in the audit
// schema together with the AFTER INSERT OR UPDATE trigger that appends
// every row version.
func (c Config) HistoryTableAuditSQL(schema, table string) string {
	return fmt.Sprintf(`
SET ROLE %[1]s;
CREATE TABLE audit.%[2]s_%[3]s
AS (SELECT * FROM %[2]s.%[4]s)
WITH NO DATA;

ALTER TABLE audit.%[2]s_%[3]s
ADD COLUMN pk INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY;

CREATE INDEX %[2]s_%[3]s_pk_idx
ON audit.%[2]s_%[3]s (pk);

CREATE INDEX %[2]s_%[3]s_id_modified_at_idx
ON audit.%[2]s_%[3]s (id, modified_at);

CREATE OR REPLACE FUNCTION %[2]s.%[3]s_history()
RETURNS TRIGGER
LANGUAGE plpgsql
SECURITY DEFINER
AS $$
BEGIN
    INSERT INTO audit.%[2]s_%[3]s
    SELECT *
    FROM %[2]s.%[4]s
    WHERE id = NEW.id;
    RETURN NEW;
END;
$$;

CREATE OR REPLACE TRIGGER %[3]s_history_trigger
    AFTER INSERT OR UPDATE
    ON %[2]s.%[4]s
    FOR EACH ROW
    EXECUTE FUNCTION %[2]s.%[3]s_history();`, c.admin(), schema, table, quoteIdent(table))
}
