/*Package backend realizes the generic REST backend over the mapped
tables.

The backend is driven entirely by a JSON configuration: for every
resource it creates the table with the ULID minting trigger, the audit
columns, the row-level-security policies and the graph mirror, registers
the filter fields, generates the form schemas and adds the collection
routes to the router. The handlers never contain resource-specific code;
everything specific comes from the configuration.
*/
package backend

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/notorm-tech/un0/core/access"
	"github.com/notorm-tech/un0/core/backend/docstore"
	"github.com/notorm-tech/un0/core/csql"
	"github.com/notorm-tech/un0/core/ddl"
	"github.com/notorm-tech/un0/core/fltr"
	"github.com/notorm-tech/un0/core/logger"
	"github.com/notorm-tech/un0/core/registry"
	"github.com/notorm-tech/un0/core/schema"
)

// Backend is the generic rest backend
type Backend struct {
	config    Configuration
	db        *csql.DB
	ddlConfig ddl.Config
	router    *mux.Router
	publisher EventPublisher
	docStore  docstore.Driver

	resources map[string]*resource
	validator *schema.Validator
	documents []map[string]any

	handlers          map[string]eventHandler
	eventConcurrency  int
	eventMaxAttempts  int
	triggerEvents     func()
	eventsUpdateQuery string
	eventsDeleteQuery string
	schemaBaseID      string

	// Registry is the JSON object registry for this backend's schema
	Registry registry.Registry
}

// resource is the compiled runtime form of a resource configuration
type resource struct {
	ResourceConfiguration
	columns      []string // property + reference columns, insert order
	filterFields []fltr.Field
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resources. This is mandatory.
	Config string
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// DDL parameterizes the emitted statements. This is mandatory.
	DDL ddl.Config
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// SchemaBaseID prefixes the $id of generated schemas, e.g.
	// "https://oppi.example.com/schemas". This is mandatory.
	SchemaBaseID string
	// Publisher forwards committed events to an external broker. This
	// is optional.
	Publisher EventPublisher
	// DocStore stores attachment documents. Only mandatory when a
	// resource is configured with_attachment.
	DocStore docstore.Driver
	// EventConcurrency is the number of parallel event workers,
	// default 5.
	EventConcurrency int
	// EventMaxAttempts is how often a failing event handler is retried,
	// default 3.
	EventMaxAttempts int
}

// New realizes the actual backend. It creates the mapped tables (if
// they do not exist), the meta table entries, the policies and triggers,
// and adds the routes to the router.
func New(bb *Builder) *Backend {
	var config Configuration
	if err := json.Unmarshal([]byte(bb.Config), &config); err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}
	if err := config.Validate(); err != nil {
		panic(fmt.Errorf("invalid backend configuration: %s", err))
	}
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.SchemaBaseID == "" {
		panic("SchemaBaseID is missing")
	}
	for _, rc := range config.Resources {
		if rc.WithAttachment && bb.DocStore == nil {
			panic("resource " + rc.Resource + " is configured with_attachment, but DocStore is missing")
		}
	}

	concurrency := bb.EventConcurrency
	if concurrency == 0 {
		concurrency = 5
	}
	maxAttempts := bb.EventMaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	b := &Backend{
		config:           config,
		db:               bb.DB,
		ddlConfig:        bb.DDL,
		router:           bb.Router,
		publisher:        bb.Publisher,
		docStore:         bb.DocStore,
		resources:        make(map[string]*resource),
		handlers:         make(map[string]eventHandler),
		eventConcurrency: concurrency,
		eventMaxAttempts: maxAttempts,
		schemaBaseID:     strings.TrimSuffix(bb.SchemaBaseID, "/"),
		Registry:         registry.New(bb.DB),
	}
	b.triggerEvents = func() { go b.ProcessEvents() }

	b.createResources()
	b.compileSchemas()
	b.handleEvents()
	b.handleRoutes()
	return b
}

// Router returns the backend's router
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Config returns the backend's configuration
func (b *Backend) Config() Configuration {
	return b.config
}

// createResources creates the mapped tables in dependency order:
// resources referenced by others come first, so the foreign keys can be
// enforced.
func (b *Backend) createResources() {
	rlog := logger.Default()

	ordered := make([]ResourceConfiguration, len(b.config.Resources))
	copy(ordered, b.config.Resources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].References) < len(ordered[j].References)
	})

	for _, rc := range ordered {
		rlog.Infoln("create resource:", rc.Resource)
		if err := b.createTable(rc); err != nil {
			panic(fmt.Errorf("cannot create resource %s: %s", rc.Resource, err))
		}

		r := &resource{ResourceConfiguration: rc}
		for _, p := range rc.Properties {
			r.columns = append(r.columns, p.Name)
		}
		for _, ref := range rc.References {
			r.columns = append(r.columns, ref.Column())
		}
		r.filterFields = rc.filterFields()
		b.resources[rc.Resource] = r

		if err := fltr.RegisterFields(context.Background(), b.db.DB, b.db.Schema, rc.Resource, r.filterFields); err != nil {
			panic(fmt.Errorf("cannot register filter fields for %s: %s", rc.Resource, err))
		}
	}
}

// createTable emits the full DDL of one mapped table. All statements
// are idempotent so the backend can be restarted against an existing
// database.
func (b *Backend) createTable(rc ResourceConfiguration) error {
	var columns []string
	for _, p := range rc.Properties {
		column := p.Name + " " + p.Type.ColumnType()
		if p.Required {
			column += " NOT NULL"
		}
		if p.Default != "" {
			column += " DEFAULT " + csql.QuoteLiteral(p.Default)
		}
		if p.Unique {
			column += " UNIQUE"
		}
		columns = append(columns, column)
	}
	for _, ref := range rc.References {
		column := fmt.Sprintf("%s CHAR(26) REFERENCES %s.%s(id) ON DELETE CASCADE",
			ref.Column(), b.db.Schema, ref.Resource)
		if ref.Required {
			column += " NOT NULL"
		}
		columns = append(columns, column)
	}

	createQuery := fmt.Sprintf(`
SET ROLE %s;
CREATE TABLE IF NOT EXISTS %s.%s (
    id CHAR(26) PRIMARY KEY REFERENCES un0.related_object(id) ON DELETE CASCADE,
    %s,
    tenant_id CHAR(26) REFERENCES un0.tenant(id) ON DELETE CASCADE,
    is_active BOOLEAN NOT NULL DEFAULT true,
    is_deleted BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    owner_id CHAR(26) REFERENCES un0."user"(id),
    modified_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    modified_by_id CHAR(26) REFERENCES un0."user"(id),
    deleted_at TIMESTAMP,
    deleted_by_id CHAR(26) REFERENCES un0."user"(id)
);`,
		b.ddlConfig.AdminRole(), b.db.Schema, rc.Resource, strings.Join(columns, ",\n    "))

	statements := []string{createQuery}
	for _, p := range rc.Properties {
		if !p.Searchable || p.Unique {
			continue
		}
		statements = append(statements, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s.%s (%s);",
			rc.Resource, p.Name, b.db.Schema, rc.Resource, p.Name))
	}
	for _, ref := range rc.References {
		statements = append(statements, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s.%s (%s);",
			rc.Resource, ref.Column(), b.db.Schema, rc.Resource, ref.Column()))
	}
	statements = append(statements,
		ddl.InsertTableTypeSQL(b.db.Schema, rc.Resource),
		ddl.RelatedObjectTriggerSQL(b.db.Schema, rc.Resource),
		ddl.CreateTriggerSQL(b.db.Schema, rc.Resource, "set_modified", "BEFORE", "UPDATE"),
		b.ddlConfig.AlterGrantSQL(b.db.Schema, rc.Resource),
		b.ddlConfig.RLSPoliciesSQL(b.db.Schema, rc.Resource, rc.policy()),
	)

	switch rc.auditMode() {
	case ddl.AuditRecordVersion:
		statements = append(statements, ddl.RecordVersionAuditSQL(b.db.Schema, rc.Resource))
	case ddl.AuditHistory:
		statements = append(statements, b.ddlConfig.HistoryTableAuditSQL(b.db.Schema, rc.Resource))
	}

	if rc.HasVertex() {
		var properties []string
		for _, p := range rc.Properties {
			properties = append(properties, p.Name)
		}
		var edges []ddl.Edge
		for _, ref := range rc.References {
			edges = append(edges, ddl.Edge{
				Column: ref.Column(),
				Label:  ref.EdgeLabel(),
				Target: ref.Resource,
			})
		}
		statements = append(statements,
			ddl.VertexLabelSQL(rc.Resource),
			b.ddlConfig.VertexTriggersSQL(b.db.Schema, rc.Resource, properties, edges),
		)
		for _, e := range edges {
			statements = append(statements, ddl.EdgeLabelSQL(e.Label))
		}
	}

	for _, statement := range statements {
		if statement == "" {
			continue
		}
		if _, err := b.db.Exec(statement); err != nil {
			// idempotency: policies, labels and audit tracking already
			// exist after a restart
			if isAlreadyExists(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}

// compileSchemas generates all schema variants and the validator.
func (b *Backend) compileSchemas() {
	for _, rc := range b.config.Resources {
		properties := rc.schemaProperties()
		for _, variant := range []schema.Variant{
			schema.VariantInsert, schema.VariantUpdate, schema.VariantSelect, schema.VariantList,
		} {
			doc, err := schema.Generate(b.schemaBaseID, rc.Resource, properties, variant)
			if err != nil {
				panic(fmt.Errorf("cannot generate %s schema for %s: %s", variant, rc.Resource, err))
			}
			b.documents = append(b.documents, doc)
		}
	}
	validator, err := schema.NewValidator(b.documents)
	if err != nil {
		panic(fmt.Errorf("cannot compile schemas: %s", err))
	}
	b.validator = validator

	// publish the documents for reporting sessions and other services
	accessor := b.Registry.Accessor("schema")
	for _, doc := range b.documents {
		if err := accessor.Write(doc["$id"].(string), doc); err != nil {
			panic(fmt.Errorf("cannot register schema: %s", err))
		}
	}
}

// handleRoutes adds all necessary handlers for the configuration
func (b *Backend) handleRoutes() {
	rlog := logger.Default()
	rlog.Infoln("backend: handle routes")

	access.HandleAuthorizationRoute(b.router)
	b.handleSchemaRoutes()
	b.handleFilterFieldRoutes()
	for _, rc := range b.config.Resources {
		b.handleResourceRoutes(b.resources[rc.Resource])
	}
}

// handleFilterFieldRoutes serves the filterable fields of a resource,
// read back from the un0.filterfield meta tables the browser client
// renders the filter UI from.
func (b *Backend) handleFilterFieldRoutes() {
	rlog := logger.Default()
	rlog.Infoln("  handle route: /filterfields/{resource} GET")

	b.router.HandleFunc("/filterfields/{resource}", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["resource"]
		if _, ok := b.resources[name]; !ok {
			http.Error(w, "no such resource", http.StatusNotFound)
			return
		}
		fields, err := fltr.FieldsForTable(r.Context(), b.db.DB, b.db.Schema, name)
		if err != nil {
			b.internalError(w, r, err)
			return
		}
		if fields == nil {
			fields = []fltr.Field{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fields)
	}).Methods(http.MethodGet)
}

// handleSchemaRoutes serves the generated schema documents.
func (b *Backend) handleSchemaRoutes() {
	rlog := logger.Default()
	rlog.Infoln("  handle route: /schemas/{resource}/{variant} GET")

	b.router.HandleFunc("/schemas/{resource}/{variant}", func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		variant := schema.Variant(strings.TrimSuffix(params["variant"], ".json"))
		id := schema.SchemaID(b.schemaBaseID, params["resource"], variant)
		for _, doc := range b.documents {
			if doc["$id"] == id {
				w.Header().Set("Content-Type", "application/schema+json")
				json.NewEncoder(w).Encode(doc)
				return
			}
		}
		http.Error(w, "no such schema", http.StatusNotFound)
	}).Methods(http.MethodGet)

	b.router.HandleFunc("/schemas/{resource}", func(w http.ResponseWriter, r *http.Request) {
		prefix := b.schemaBaseID + "/" + mux.Vars(r)["resource"] + "/"
		var docs []map[string]any
		for _, doc := range b.documents {
			if strings.HasPrefix(doc["$id"].(string), prefix) {
				docs = append(docs, doc)
			}
		}
		if len(docs) == 0 {
			http.Error(w, "no such schema", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	}).Methods(http.MethodGet)

	b.router.HandleFunc("/schemas", func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		for _, doc := range b.documents {
			ids = append(ids, doc["$id"].(string))
		}
		sort.Strings(ids)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ids)
	}).Methods(http.MethodGet)
}

// HandleCORS adds permissive CORS headers for browser clients.
func (b *Backend) HandleCORS() {
	corsMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, If-None-Match, Access-Control-Allow-Origin")
			w.Header().Set("Access-Control-Expose-Headers", "*")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
	b.router.Use(corsMiddleware)
}

// HandleCompression compresses responses when the client accepts it.
func (b *Backend) HandleCompression() {
	compressionMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlers.CompressHandler(h).ServeHTTP(w, r)
		})
	}
	b.router.Use(compressionMiddleware)
}
