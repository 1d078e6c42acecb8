package ddl

import (
	"fmt"
	"strings"

	"github.com/notorm-tech/un0/core"
)

// Edge describes a graph edge derived from a foreign key column: a row
// insert creates an edge with the given label from this table's vertex
// to the vertex of the referenced table.
type Edge struct {
	// Column is the foreign key column, e.g. "customer_id"
	Column string
	// Label is the edge label, e.g. "HAS_CUSTOMER"
	Label string
	// Target is the referenced table, e.g. "customer"
	Target string
}

// VertexLabelSQL registers the vertex label of a mapped table.
func VertexLabelSQL(table string) string {
	return fmt.Sprintf(`SELECT ag_catalog.create_vlabel('graph', '%s');`, core.CapitalWord(table))
}

// EdgeLabelSQL registers an edge label.
func EdgeLabelSQL(label string) string {
	return fmt.Sprintf(`SELECT ag_catalog.create_elabel('graph', '%s');`, label)
}

// VertexTriggersSQL emits the trigger functions and triggers that
// mirror a mapped table into the AGE graph: the insert trigger creates
// the vertex and one edge per tagged foreign key, the update trigger
// rewrites the vertex properties, the delete trigger removes the vertex
// together with its edges.
//
// properties are the scalar columns mirrored as vertex properties;
// foreign keys and system columns are excluded, as the original graph
// emitters do.
func (c Config) VertexTriggersSQL(schema, table string, properties []string, edges []Edge) string {
	label := core.CapitalWord(table)

	propNames := []string{"id: %s"}
	propValues := []string{"quote_nullable(NEW.id)"}
	var setClauses []string
	for _, p := range properties {
		propNames = append(propNames, p+": %s")
		propValues = append(propValues, "quote_nullable(NEW."+p+")")
		setClauses = append(setClauses, "v."+p+" = %s")
	}

	insertBody := fmt.Sprintf(`
    EXECUTE format('SELECT * FROM cypher(''graph'', $g$
        CREATE (v:%s {%s})
    $g$) AS (v agtype)', %s);`,
		label, strings.Join(propNames, ", "), strings.Join(propValues, ", "))

	for _, e := range edges {
		insertBody += fmt.Sprintf(`
    IF NEW.%[1]s IS NOT NULL THEN
        EXECUTE format('SELECT * FROM cypher(''graph'', $g$
            MATCH (s:%[2]s {id: %%s}), (d:%[3]s {id: %%s})
            CREATE (s)-[e:%[4]s]->(d)
        $g$) AS (e agtype)', quote_nullable(NEW.id), quote_nullable(NEW.%[1]s));
    END IF;`,
			e.Column, label, core.CapitalWord(e.Target), e.Label)
	}

	updateBody := fmt.Sprintf(`
    EXECUTE format('SELECT * FROM cypher(''graph'', $g$
        MATCH (v:%s {id: %%s})
        RETURN v
    $g$) AS (v agtype)', quote_nullable(NEW.id));`, label)
	if len(setClauses) > 0 {
		args := append([]string{"quote_nullable(NEW.id)"}, propValues[1:]...)
		updateBody = fmt.Sprintf(`
    EXECUTE format('SELECT * FROM cypher(''graph'', $g$
        MATCH (v:%s {id: %%s})
        SET %s
    $g$) AS (v agtype)', %s);`,
			label, strings.Join(setClauses, ", "), strings.Join(args, ", "))
	}

	deleteBody := fmt.Sprintf(`
    EXECUTE format('SELECT * FROM cypher(''graph'', $g$
        MATCH (v:%s {id: %%s})
        DETACH DELETE v
    $g$) AS (v agtype)', quote_nullable(OLD.id));`, label)

	sql := fmt.Sprintf(`
SET ROLE %[1]s;
CREATE OR REPLACE FUNCTION %[2]s.%[3]s_vertex_insert()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
BEGIN
    SET search_path TO ag_catalog;%[4]s
    RETURN NEW;
END;
$$;

CREATE OR REPLACE FUNCTION %[2]s.%[3]s_vertex_update()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
BEGIN
    SET search_path TO ag_catalog;%[5]s
    RETURN NEW;
END;
$$;

CREATE OR REPLACE FUNCTION %[2]s.%[3]s_vertex_delete()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
BEGIN
    SET search_path TO ag_catalog;%[6]s
    RETURN OLD;
END;
$$;

CREATE OR REPLACE TRIGGER %[3]s_vertex_insert_trigger
    AFTER INSERT ON %[2]s.%[7]s
    FOR EACH ROW
    EXECUTE FUNCTION %[2]s.%[3]s_vertex_insert();

CREATE OR REPLACE TRIGGER %[3]s_vertex_update_trigger
    AFTER UPDATE ON %[2]s.%[7]s
    FOR EACH ROW
    EXECUTE FUNCTION %[2]s.%[3]s_vertex_update();

CREATE OR REPLACE TRIGGER %[3]s_vertex_delete_trigger
    AFTER DELETE ON %[2]s.%[7]s
    FOR EACH ROW
    EXECUTE FUNCTION %[2]s.%[3]s_vertex_delete();`,
		c.admin(), schema, table, insertBody, updateBody, deleteBody, quoteIdent(table))

	return sql
}
