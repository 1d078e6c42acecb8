/*Package oppi is the small-business ledger application built on the
generic backend.

The entire application is the resource configuration below plus service
wiring: customers, vendors, items, warehouses, stock entries, purchase
and sales orders with their lines, and attachments. The browser client
renders all forms and list views from the generated schemas.
*/
package oppi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/notorm-tech/un0/core/access"
	"github.com/notorm-tech/un0/core/backend"
	"github.com/notorm-tech/un0/core/backend/docstore"
	"github.com/notorm-tech/un0/core/csql"
	"github.com/notorm-tech/un0/core/ddl"
	"github.com/notorm-tech/un0/core/logger"
	"github.com/notorm-tech/un0/ui"
)

// ConfigurationJSON is the resource configuration of the ledger.
const ConfigurationJSON = `{
	"resources": [
		{
			"resource": "customer",
			"description": "A party we sell to",
			"properties": [
				{"name": "name", "value_type": "text", "required": true, "searchable": true},
				{"name": "email", "value_type": "text", "searchable": true},
				{"name": "phone", "value_type": "text"},
				{"name": "notes", "value_type": "long_text"}
			]
		},
		{
			"resource": "vendor",
			"description": "A party we buy from",
			"properties": [
				{"name": "name", "value_type": "text", "required": true, "searchable": true},
				{"name": "email", "value_type": "text", "searchable": true},
				{"name": "phone", "value_type": "text"}
			]
		},
		{
			"resource": "item",
			"description": "A product or service we trade",
			"properties": [
				{"name": "sku", "value_type": "text", "required": true, "unique": true, "searchable": true},
				{"name": "name", "value_type": "text", "required": true, "searchable": true},
				{"name": "description", "value_type": "long_text"},
				{"name": "unit_price", "value_type": "decimal", "searchable": true},
				{"name": "data", "value_type": "json"}
			]
		},
		{
			"resource": "warehouse",
			"properties": [
				{"name": "name", "value_type": "text", "required": true, "searchable": true},
				{"name": "location", "value_type": "text"}
			]
		},
		{
			"resource": "stock_entry",
			"description": "A stock movement of one item in one warehouse",
			"audit": "history",
			"properties": [
				{"name": "quantity", "value_type": "integer", "required": true, "searchable": true},
				{"name": "recorded_on", "value_type": "date", "searchable": true}
			],
			"references": [
				{"resource": "item", "required": true},
				{"resource": "warehouse", "required": true}
			]
		},
		{
			"resource": "purchase_order",
			"audit": "history",
			"properties": [
				{"name": "order_no", "value_type": "text", "required": true, "unique": true, "searchable": true},
				{"name": "status", "value_type": "enum", "required": true, "searchable": true,
					"enum_values": ["draft", "ordered", "received", "cancelled"]},
				{"name": "ordered_on", "value_type": "date", "searchable": true},
				{"name": "total", "value_type": "decimal", "searchable": true}
			],
			"references": [
				{"resource": "vendor", "required": true}
			]
		},
		{
			"resource": "purchase_order_line",
			"properties": [
				{"name": "quantity", "value_type": "integer", "required": true},
				{"name": "unit_price", "value_type": "decimal"}
			],
			"references": [
				{"resource": "purchase_order", "required": true},
				{"resource": "item", "required": true}
			]
		},
		{
			"resource": "sales_order",
			"audit": "history",
			"properties": [
				{"name": "order_no", "value_type": "text", "required": true, "unique": true, "searchable": true},
				{"name": "status", "value_type": "enum", "required": true, "searchable": true,
					"enum_values": ["draft", "confirmed", "shipped", "paid", "cancelled"]},
				{"name": "ordered_on", "value_type": "date", "searchable": true},
				{"name": "total", "value_type": "decimal", "searchable": true}
			],
			"references": [
				{"resource": "customer", "required": true}
			]
		},
		{
			"resource": "sales_order_line",
			"properties": [
				{"name": "quantity", "value_type": "integer", "required": true},
				{"name": "unit_price", "value_type": "decimal"}
			],
			"references": [
				{"resource": "sales_order", "required": true},
				{"resource": "item", "required": true}
			]
		},
		{
			"resource": "attachment",
			"description": "A document attached to the ledger, e.g. a scanned invoice",
			"vertex": false,
			"with_attachment": true,
			"properties": [
				{"name": "name", "value_type": "text", "required": true, "searchable": true},
				{"name": "content_type", "value_type": "text"},
				{"name": "size", "value_type": "integer"}
			]
		}
	]
}`

// Service holds the configuration for the ledger service.
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	// Postgres is the maintenance connection used for provisioning
	Postgres string `env:"POSTGRES,required" description:"the connection string for the Postgres maintenance DB"`
	// Database is the application connection, connecting as the login role
	Database      string `env:"DATABASE,required" description:"the connection string for the application DB"`
	DBName        string `env:"DB_NAME,default=oppi" description:"database name and role prefix"`
	Schema        string `env:"DB_SCHEMA,default=oppi" description:"application schema"`
	LoginPassword string `env:"DB_LOGIN_PASSWORD,required" description:"password of the login role"`
	TokenSecret   string `env:"TOKEN_SECRET" description:"initial token secret, stored in the database on provisioning"`
	SchemaBaseID  string `env:"SCHEMA_BASE_ID,default=https://oppi.example.com/schemas" description:"prefix of the generated schema $id values"`
	Port          string `env:"PORT,default=3000" description:"HTTP listen port"`

	KafkaBrokers string `env:"KAFKA_BROKERS" description:"optional comma separated Kafka brokers for the event feed"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=oppi-events" description:"Kafka topic for the event feed"`

	DocumentPath string `env:"DOCUMENT_PATH,default=./documents" description:"base folder of the filesystem docstore"`
	S3Bucket     string `env:"S3_BUCKET" description:"optional S3 bucket for the docstore, overrides DOCUMENT_PATH"`
	S3Region     string `env:"S3_REGION" description:"AWS region of the docstore bucket"`
	S3AccessID   string `env:"S3_ACCESS_ID" description:"AWS access id for the docstore bucket"`
	S3AccessKey  string `env:"S3_ACCESS_KEY" description:"AWS access key for the docstore bucket"`

	Caps ddl.GroupCaps
}

// NewService reads the service configuration from the environment.
func NewService() (*Service, error) {
	s := &Service{}
	if err := envdecode.Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) provisioner() *ddl.Provisioner {
	return &ddl.Provisioner{
		Config: ddl.Config{
			DBName:   s.DBName,
			Schema:   s.Schema,
			Password: s.LoginPassword,
		},
		Caps:        s.Caps,
		PostgresDSN: s.Postgres,
		DatabaseDSN: s.Database,
	}
}

// CreateDatabase creates the database with its role hierarchy.
func (s *Service) CreateDatabase(ctx context.Context) error {
	return s.provisioner().CreateDatabase(ctx)
}

// DropDatabase drops the database and its roles.
func (s *Service) DropDatabase(ctx context.Context) error {
	return s.provisioner().DropDatabase(ctx)
}

// Provision provisions the meta schema, the auth tables, the policies
// and the graph. Idempotent; the token secret is only written when
// TOKEN_SECRET is set.
func (s *Service) Provision(ctx context.Context) error {
	p := s.provisioner()
	if err := p.Provision(ctx); err != nil {
		return err
	}
	if s.TokenSecret != "" {
		return p.SetTokenSecret(ctx, s.TokenSecret)
	}
	return nil
}

// ClearData drops and recreates the application schema, removing all
// business data. The un0 auth and meta tables stay; the next service
// start recreates the mapped tables.
func (s *Service) ClearData() error {
	db, err := csql.OpenWithSchema(s.Database, s.Schema, s.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	db.ClearSchema()
	return nil
}

// CreateSuperuser creates a superuser and returns its id.
func (s *Service) CreateSuperuser(ctx context.Context, email, handle string) (string, error) {
	return s.provisioner().CreateUser(ctx, email, handle, "", true, false)
}

func (s *Service) docStore() (docstore.Driver, error) {
	if s.S3Bucket != "" {
		return docstore.NewS3(docstore.S3Configuration{
			AWSBucketName: s.S3Bucket,
			AWSRegion:     s.S3Region,
			AccessID:      s.S3AccessID,
			AccessKey:     s.S3AccessKey,
		})
	}
	return docstore.NewFilesystem(s.DocumentPath)
}

// NewBackend wires the ledger backend onto the router.
func (s *Service) NewBackend(db *csql.DB, router *mux.Router) (*backend.Backend, error) {
	store, err := s.docStore()
	if err != nil {
		return nil, err
	}

	var publisher backend.EventPublisher
	if s.KafkaBrokers != "" {
		publisher = backend.NewKafkaPublisher(strings.Split(s.KafkaBrokers, ","), s.KafkaTopic)
	}

	b := backend.New(&backend.Builder{
		Config: ConfigurationJSON,
		DB:     db,
		DDL: ddl.Config{
			DBName:   s.DBName,
			Schema:   s.Schema,
			Password: s.LoginPassword,
		},
		Router:       router,
		SchemaBaseID: s.SchemaBaseID,
		Publisher:    publisher,
		DocStore:     store,
	})
	b.HandleCORS()
	b.HandleCompression()
	return b, nil
}

// Run provisions nothing; it connects, wires the backend with
// authentication and the browser UI, and serves HTTP until the context
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	rlog := logger.Default()

	db, err := csql.OpenWithSchema(s.Database, s.Schema, s.DBName)
	if err != nil {
		return err
	}
	defer db.Close()

	router := mux.NewRouter()
	logger.AddRequestID(router)

	source := &access.TokenSource{DB: db}
	router.Use(access.NewJwtMiddleware(db, source))
	access.HandleLoginRoute(router, db, source)

	if _, err := s.NewBackend(db, router); err != nil {
		return err
	}

	router.PathPrefix("/ui/").Handler(http.StripPrefix("/ui/", ui.Handler()))

	server := &http.Server{Addr: ":" + s.Port, Handler: router}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	rlog.Infoln("listen on port :" + s.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
