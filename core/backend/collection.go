package backend

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"database/sql"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/notorm-tech/un0/core"
	"github.com/notorm-tech/un0/core/access"
	"github.com/notorm-tech/un0/core/fltr"
	"github.com/notorm-tech/un0/core/logger"
	"github.com/notorm-tech/un0/core/schema"
)

// validID matches Crockford base32 ULIDs as minted by the database
var validID = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)

// columnDef pairs a selectable column with its value type, which decides
// the scan destination.
type columnDef struct {
	name string
	vt   core.ValueType
}

// system columns appended to every select, in this order
var systemColumns = []columnDef{
	{"tenant_id", core.ValueRelated},
	{"is_active", core.ValueBoolean},
	{"is_deleted", core.ValueBoolean},
	{"created_at", core.ValueDatetime},
	{"owner_id", core.ValueRelated},
	{"modified_at", core.ValueDatetime},
	{"modified_by_id", core.ValueRelated},
	{"deleted_at", core.ValueDatetime},
	{"deleted_by_id", core.ValueRelated},
}

// columnDefs returns the full select column list of the resource:
// id first, then the configured columns, then the system columns.
func (r *resource) columnDefs(metaonly bool) []columnDef {
	defs := []columnDef{{"id", core.ValueRelated}}
	if !metaonly {
		for _, p := range r.Properties {
			defs = append(defs, columnDef{p.Name, p.Type})
		}
		for _, ref := range r.References {
			defs = append(defs, columnDef{ref.Column(), core.ValueRelated})
		}
	}
	return append(defs, systemColumns...)
}

// scanDestinations returns one scan destination per column and a
// function that converts the scanned values into a JSON object.
func scanDestinations(defs []columnDef) ([]any, func() map[string]any) {
	values := make([]any, len(defs))
	for i, def := range defs {
		switch def.vt {
		case core.ValueInteger:
			values[i] = &sql.NullInt64{}
		case core.ValueDecimal:
			values[i] = &sql.NullFloat64{}
		case core.ValueBoolean:
			values[i] = &sql.NullBool{}
		case core.ValueDate, core.ValueDatetime:
			values[i] = &sql.NullTime{}
		case core.ValueJSON:
			values[i] = &[]byte{}
		default:
			// text, long_text, time, enum, related
			values[i] = &sql.NullString{}
		}
	}

	object := func() map[string]any {
		obj := make(map[string]any, len(defs))
		for i, def := range defs {
			switch v := values[i].(type) {
			case *sql.NullInt64:
				if v.Valid {
					obj[def.name] = v.Int64
				} else {
					obj[def.name] = nil
				}
			case *sql.NullFloat64:
				if v.Valid {
					obj[def.name] = v.Float64
				} else {
					obj[def.name] = nil
				}
			case *sql.NullBool:
				if v.Valid {
					obj[def.name] = v.Bool
				} else {
					obj[def.name] = nil
				}
			case *sql.NullTime:
				if v.Valid {
					format := time.RFC3339
					if def.vt == core.ValueDate {
						format = "2006-01-02"
					}
					obj[def.name] = v.Time.UTC().Format(format)
				} else {
					obj[def.name] = nil
				}
			case *[]byte:
				if len(*v) > 0 {
					obj[def.name] = json.RawMessage(*v)
				} else {
					obj[def.name] = nil
				}
			case *sql.NullString:
				if v.Valid {
					// CHAR(26) columns come back space padded when empty
					obj[def.name] = strings.TrimSpace(v.String)
				} else {
					obj[def.name] = nil
				}
			}
		}
		return obj
	}
	return values, object
}

// handleResourceRoutes adds the CRUD routes of one mapped resource.
func (b *Backend) handleResourceRoutes(r *resource) {
	rlog := logger.Default()
	plural := core.Plural(r.Resource)
	collection := "/" + plural
	item := collection + "/{" + r.Resource + "_id}"

	rlog.Infoln("  handle routes:", collection, "GET,POST")
	rlog.Infoln("  handle routes:", item, "GET,PUT,PATCH,DELETE")

	b.router.HandleFunc(collection, func(w http.ResponseWriter, req *http.Request) {
		b.listWithAuth(w, req, r)
	}).Methods(http.MethodGet)

	b.router.HandleFunc(collection, func(w http.ResponseWriter, req *http.Request) {
		b.createWithAuth(w, req, r)
	}).Methods(http.MethodPost)

	b.router.HandleFunc(item, func(w http.ResponseWriter, req *http.Request) {
		b.readWithAuth(w, req, r)
	}).Methods(http.MethodGet)

	b.router.HandleFunc(item, func(w http.ResponseWriter, req *http.Request) {
		b.updateWithAuth(w, req, r, false)
	}).Methods(http.MethodPut)

	b.router.HandleFunc(item, func(w http.ResponseWriter, req *http.Request) {
		b.updateWithAuth(w, req, r, true)
	}).Methods(http.MethodPatch)

	b.router.HandleFunc(item, func(w http.ResponseWriter, req *http.Request) {
		b.deleteWithAuth(w, req, r)
	}).Methods(http.MethodDelete)

	if r.WithAttachment {
		b.handleAttachmentRoutes(r, item)
	}
}

func itemID(req *http.Request, r *resource) (string, bool) {
	id := mux.Vars(req)[r.Resource+"_id"]
	return id, validID.MatchString(id)
}

func (b *Backend) listWithAuth(w http.ResponseWriter, req *http.Request, r *resource) {
	var (
		limit       = 100
		page        = 1
		until       time.Time
		from        time.Time
		order       = "DESC"
		metaonly    bool
		withDeleted bool
		conditions  []fltr.Condition
		children    []string
		err         error
	)

	urlQuery := req.URL.Query()
	for key, array := range urlQuery {
		if key != "filter" && len(array) > 1 {
			http.Error(w, "illegal parameter array '"+key+"'", http.StatusBadRequest)
			return
		}
		value := array[0]
		switch key {
		case "limit":
			limit, err = strconv.Atoi(value)
			if err == nil && (limit < 1 || limit > 100) {
				err = fmt.Errorf("out of range")
			}
		case "page":
			page, err = strconv.Atoi(value)
			if err == nil && page < 1 {
				err = fmt.Errorf("out of range")
			}
		case "until":
			until, err = time.Parse(time.RFC3339, value)
		case "from":
			from, err = time.Parse(time.RFC3339, value)
		case "order":
			switch value {
			case "asc":
				order = "ASC"
			case "desc":
				order = "DESC"
			default:
				err = fmt.Errorf("order must be asc or desc")
			}
		case "metaonly":
			metaonly, err = strconv.ParseBool(value)
		case "children":
			children, err = b.parseChildren(r, value)
		case "deleted":
			withDeleted, err = strconv.ParseBool(value)
		case "filter":
			for _, value := range array {
				var c fltr.Condition
				c, err = fltr.ParseConstraint(value)
				if err != nil {
					break
				}
				conditions = append(conditions, c)
			}
		default:
			err = fmt.Errorf("unknown")
		}
		if err != nil {
			http.Error(w, "parameter '"+key+"': "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !withDeleted {
		where = append(where, "is_deleted = false")
	}
	if !from.IsZero() {
		where = append(where, "created_at >= "+arg(from.UTC()))
	}
	if !until.IsZero() {
		where = append(where, "created_at <= "+arg(until.UTC()))
	}
	if len(conditions) > 0 {
		builder := fltr.NewBuilder(r.filterFields, len(args))
		clause, filterArgs, err := builder.Build(&fltr.Expression{Conditions: conditions})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		where = append(where, clause)
		args = append(args, filterArgs...)
	}

	defs := r.columnDefs(metaonly)
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.name
	}
	query := fmt.Sprintf("SELECT %s, count(*) OVER() AS full_count FROM %s.%s",
		strings.Join(names, ", "), b.db.Schema, r.Resource)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, id %s LIMIT %s OFFSET %s;",
		order, order, arg(limit), arg((page-1)*limit))

	auth := access.AuthorizationFromContext(req.Context())
	tx, err := b.db.RLSTx(req.Context(), auth.DatabaseRole(core.OperationList), auth.SessionVars())
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(req.Context(), query, args...)
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	defer rows.Close()

	response := []map[string]any{}
	totalCount := 0
	values, object := scanDestinations(defs)
	scan := append(append([]any{}, values...), &totalCount)
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			b.internalError(w, req, err)
			return
		}
		response = append(response, object())
	}
	if err := rows.Err(); err != nil {
		b.internalError(w, req, err)
		return
	}
	rows.Close()

	if err := b.expandChildren(req, tx, r, children, response); err != nil {
		b.internalError(w, req, err)
		return
	}
	tx.Commit()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Total-Count", strconv.Itoa(totalCount))
	w.Header().Set("Pagination-Limit", strconv.Itoa(limit))
	w.Header().Set("Pagination-Total-Count", strconv.Itoa(totalCount))
	w.Header().Set("Pagination-Page-Count", strconv.Itoa(((totalCount-1)/limit)+1))
	w.Header().Set("Pagination-Current-Page", strconv.Itoa(page))
	json.NewEncoder(w).Encode(response)
}

func (b *Backend) readWithAuth(w http.ResponseWriter, req *http.Request, r *resource) {
	id, ok := itemID(req, r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var children []string
	if value := req.URL.Query().Get("children"); value != "" {
		var err error
		if children, err = b.parseChildren(r, value); err != nil {
			http.Error(w, "parameter 'children': "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	auth := access.AuthorizationFromContext(req.Context())
	tx, err := b.db.RLSTx(req.Context(), auth.DatabaseRole(core.OperationSelect), auth.SessionVars())
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	defer tx.Rollback()

	obj, err := b.selectObject(req, tx, r, id)
	if err == sql.ErrNoRows {
		http.Error(w, "no such "+r.Resource, http.StatusNotFound)
		return
	}
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	if err := b.expandChildren(req, tx, r, children, []map[string]any{obj}); err != nil {
		b.internalError(w, req, err)
		return
	}
	tx.Commit()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(obj)
}

// selectObject reads one full row inside the caller's transaction.
func (b *Backend) selectObject(req *http.Request, tx *sql.Tx, r *resource, id string) (map[string]any, error) {
	defs := r.columnDefs(false)
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.name
	}
	query := fmt.Sprintf("SELECT %s FROM %s.%s WHERE id = $1;",
		strings.Join(names, ", "), b.db.Schema, r.Resource)

	values, object := scanDestinations(defs)
	if err := tx.QueryRowContext(req.Context(), query, id).Scan(values...); err != nil {
		return nil, err
	}
	return object(), nil
}

// childResource resolves the name of a child resource to its compiled
// form and the foreign key column pointing back to the parent.
func (b *Backend) childResource(parent *resource, name string) (*resource, string, bool) {
	child, ok := b.resources[name]
	if !ok {
		return nil, "", false
	}
	for _, ref := range child.References {
		if ref.Resource == parent.Resource {
			return child, ref.Column(), true
		}
	}
	return nil, "", false
}

// parseChildren splits and validates the comma separated children
// parameter of list and read requests.
func (b *Backend) parseChildren(r *resource, value string) ([]string, error) {
	children := strings.Split(value, ",")
	for _, name := range children {
		if _, _, ok := b.childResource(r, name); !ok {
			return nil, fmt.Errorf("'%s' is not a child of %s", name, r.Resource)
		}
	}
	return children, nil
}

// expandChildren embeds the requested child collections into the parent
// objects, one query per child resource. Children run inside the same
// transaction as the parent, under the caller's row-level security.
func (b *Backend) expandChildren(req *http.Request, tx *sql.Tx, r *resource, children []string, parents []map[string]any) error {
	if len(children) == 0 || len(parents) == 0 {
		return nil
	}

	ids := make([]string, len(parents))
	index := make(map[string]map[string]any, len(parents))
	for i, parent := range parents {
		id, _ := parent["id"].(string)
		ids[i] = id
		index[id] = parent
	}

	for _, name := range children {
		child, column, ok := b.childResource(r, name)
		if !ok {
			return fmt.Errorf("'%s' is not a child of %s", name, r.Resource)
		}
		plural := core.Plural(name)
		for _, parent := range parents {
			parent[plural] = []map[string]any{}
		}

		defs := child.columnDefs(false)
		names := make([]string, len(defs))
		for i, def := range defs {
			names[i] = def.name
		}
		query := fmt.Sprintf(
			"SELECT %s FROM %s.%s WHERE %s = ANY($1) AND is_deleted = false ORDER BY created_at, id;",
			strings.Join(names, ", "), b.db.Schema, child.Resource, column)

		rows, err := tx.QueryContext(req.Context(), query, pq.Array(ids))
		if err != nil {
			return err
		}
		values, object := scanDestinations(defs)
		for rows.Next() {
			if err := rows.Scan(values...); err != nil {
				rows.Close()
				return err
			}
			obj := object()
			parentID, _ := obj[column].(string)
			if parent, ok := index[parentID]; ok {
				parent[plural] = append(parent[plural].([]map[string]any), obj)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

func (b *Backend) createWithAuth(w http.ResponseWriter, req *http.Request, r *resource) {
	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	// the id may come from the client, everything else is validated
	// against the insert schema
	id, _ := body["id"].(string)
	delete(body, "id")
	if id != "" && !validID.MatchString(id) {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	schemaID := schema.SchemaID(b.schemaBaseID, r.Resource, schema.VariantInsert)
	if err := b.validator.ValidateStruct(body, schemaID); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	auth := access.AuthorizationFromContext(req.Context())
	vars := auth.SessionVars()

	columns := []string{"tenant_id"}
	values := []any{nullable(vars.TenantID)}
	if id != "" {
		columns = append(columns, "id")
		values = append(values, id)
	}
	if vars.UserID != "" {
		columns = append(columns, "owner_id")
		values = append(values, vars.UserID)
	}
	for _, column := range r.columns {
		value, ok := body[column]
		if !ok {
			continue
		}
		columns = append(columns, column)
		values = append(values, insertValue(value))
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s) RETURNING id;",
		b.db.Schema, r.Resource, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	tx, err := b.db.RLSTx(req.Context(), auth.DatabaseRole(core.OperationInsert), vars)
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(req.Context(), query, values...).Scan(&id); err != nil {
		b.sqlError(w, req, err)
		return
	}
	id = strings.TrimSpace(id)

	obj, err := b.selectObject(req, tx, r, id)
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	if err := b.commitWithEvent(req.Context(), tx, r.Resource, core.OperationInsert, id); err != nil {
		b.internalError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(obj)
}

func (b *Backend) updateWithAuth(w http.ResponseWriter, req *http.Request, r *resource, partial bool) {
	id, ok := itemID(req, r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if other, ok := body["id"].(string); ok && other != id {
		http.Error(w, "id mismatch", http.StatusBadRequest)
		return
	}
	delete(body, "id")
	schemaID := schema.SchemaID(b.schemaBaseID, r.Resource, schema.VariantUpdate)
	if err := b.validator.ValidateStruct(body, schemaID); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	var (
		assignments []string
		values      []any
	)
	for _, column := range r.columns {
		value, ok := body[column]
		if !ok {
			if partial {
				continue
			}
			value = nil // a full update clears omitted columns
		}
		values = append(values, insertValue(value))
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(values)))
	}
	if len(assignments) == 0 {
		http.Error(w, "empty update", http.StatusBadRequest)
		return
	}
	values = append(values, id)
	query := fmt.Sprintf("UPDATE %s.%s SET %s WHERE id = $%d AND is_deleted = false;",
		b.db.Schema, r.Resource, strings.Join(assignments, ", "), len(values))

	auth := access.AuthorizationFromContext(req.Context())
	tx, err := b.db.RLSTx(req.Context(), auth.DatabaseRole(core.OperationUpdate), auth.SessionVars())
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(req.Context(), query, values...)
	if err != nil {
		b.sqlError(w, req, err)
		return
	}
	if count, _ := res.RowsAffected(); count == 0 {
		http.Error(w, "no such "+r.Resource, http.StatusNotFound)
		return
	}

	obj, err := b.selectObject(req, tx, r, id)
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	if err := b.commitWithEvent(req.Context(), tx, r.Resource, core.OperationUpdate, id); err != nil {
		b.internalError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(obj)
}

func (b *Backend) deleteWithAuth(w http.ResponseWriter, req *http.Request, r *resource) {
	id, ok := itemID(req, r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	purge := false
	if value := req.URL.Query().Get("purge"); value != "" {
		var err error
		if purge, err = strconv.ParseBool(value); err != nil {
			http.Error(w, "parameter 'purge': "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	auth := access.AuthorizationFromContext(req.Context())
	vars := auth.SessionVars()

	var query string
	var args []any
	if purge {
		query = fmt.Sprintf("DELETE FROM %s.%s WHERE id = $1;", b.db.Schema, r.Resource)
		args = []any{id}
	} else {
		query = fmt.Sprintf(`UPDATE %s.%s
SET is_deleted = true, is_active = false, deleted_at = current_timestamp, deleted_by_id = $2
WHERE id = $1 AND is_deleted = false;`, b.db.Schema, r.Resource)
		args = []any{id, nullable(vars.UserID)}
	}

	tx, err := b.db.RLSTx(req.Context(), auth.DatabaseRole(core.OperationDelete), vars)
	if err != nil {
		b.internalError(w, req, err)
		return
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(req.Context(), query, args...)
	if err != nil {
		b.sqlError(w, req, err)
		return
	}
	if count, _ := res.RowsAffected(); count == 0 {
		http.Error(w, "no such "+r.Resource, http.StatusNotFound)
		return
	}
	if err := b.commitWithEvent(req.Context(), tx, r.Resource, core.OperationDelete, id); err != nil {
		b.internalError(w, req, err)
		return
	}
	if purge && r.WithAttachment {
		if err := b.docStore.Delete(req.Context(), documentKey(r, id)); err != nil {
			logger.FromContext(req.Context()).WithError(err).Warningln("cannot delete document of", id)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// nullable maps the empty string to NULL, for optional CHAR(26) columns
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// insertValue converts a decoded JSON value into a driver value. Maps
// and arrays go in as JSON text for jsonb columns.
func insertValue(value any) any {
	switch v := value.(type) {
	case map[string]any, []any:
		raw, _ := json.Marshal(v)
		return string(raw)
	default:
		return value
	}
}

func (b *Backend) internalError(w http.ResponseWriter, req *http.Request, err error) {
	logger.FromContext(req.Context()).WithError(err).Errorln("internal error")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// sqlError maps constraint violations to client errors.
func (b *Backend) sqlError(w http.ResponseWriter, req *http.Request, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key"):
		http.Error(w, msg, http.StatusConflict)
	case strings.Contains(msg, "violates foreign key"),
		strings.Contains(msg, "violates check constraint"),
		strings.Contains(msg, "violates not-null"):
		http.Error(w, msg, http.StatusUnprocessableEntity)
	case strings.Contains(msg, "row-level security"):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		b.internalError(w, req, err)
	}
}
