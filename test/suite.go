// Package test contains the end-to-end suite. It provisions a complete
// database with extensions in a container, realizes a backend with a
// Kafka event feed and runs the REST API through the in-process client.
package test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/notorm-tech/un0/core/access"
	"github.com/notorm-tech/un0/core/backend"
	"github.com/notorm-tech/un0/core/backend/docstore"
	"github.com/notorm-tech/un0/core/client"
	"github.com/notorm-tech/un0/core/csql"
	"github.com/notorm-tech/un0/core/ddl"
)

// the test database needs btree_gist, pgcrypto, pgjwt, supa_audit and
// age; build the image with `docker build -t un0-postgres test/` or
// point POSTGRES_IMAGE at your own
const defaultPostgresImage = "un0-postgres:latest"

const testConfigurationJSON = `{
	"resources": [
		{
			"resource": "customer",
			"properties": [
				{"name": "name", "value_type": "text", "required": true, "searchable": true},
				{"name": "email", "value_type": "text", "searchable": true},
				{"name": "phone", "value_type": "text"}
			]
		},
		{
			"resource": "item",
			"properties": [
				{"name": "sku", "value_type": "text", "required": true, "unique": true, "searchable": true},
				{"name": "unit_price", "value_type": "decimal", "searchable": true}
			]
		},
		{
			"resource": "sales_order",
			"audit": "history",
			"properties": [
				{"name": "order_no", "value_type": "text", "required": true, "unique": true, "searchable": true},
				{"name": "status", "value_type": "enum", "required": true, "searchable": true,
					"enum_values": ["draft", "confirmed", "shipped", "paid", "cancelled"]}
			],
			"references": [
				{"resource": "customer", "required": true}
			]
		},
		{
			"resource": "invoice_scan",
			"vertex": false,
			"with_attachment": true,
			"properties": [
				{"name": "name", "value_type": "text", "required": true}
			]
		}
	]
}`

const kafkaTopic = "ledger-events"

type IntegrationTestSuite struct {
	suite.Suite

	network           testcontainers.Network
	postgresContainer testcontainers.Container
	kafkaContainer    testcontainers.Container
	kafkaConn         *kafka.Conn
	kafkaAddr         string

	db      *csql.DB
	router  *mux.Router
	backend *backend.Backend
	client  client.Client
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	networkName := fmt.Sprintf("un0-test-network-%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	s.Require().NoError(err)
	s.network = network

	image := os.Getenv("POSTGRES_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}
	pgReq := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "postgres",
		},
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"postgres"}},
		WaitingFor:     wait.ForListeningPort("5432/tcp"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	zooReq := testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-zookeeper:7.5.0",
		ExposedPorts: []string{"2181/tcp"},
		Env: map[string]string{
			"ZOOKEEPER_CLIENT_PORT": "2181",
			"ZOOKEEPER_TICK_TIME":   "2000",
		},
		WaitingFor:     wait.ForListeningPort("2181/tcp"),
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
	}
	_, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: zooReq,
		Started:          true,
	})
	s.Require().NoError(err)

	kafkaReq := testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-kafka:7.5.0",
		ExposedPorts: []string{"9092:9092/tcp"},
		Env: map[string]string{
			"KAFKA_BROKER_ID":                        "1",
			"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
			"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092",
			"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
			"ALLOW_PLAINTEXT_LISTENER":               "yes",
		},
		WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"kafka"}},
	}
	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: kafkaReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC

	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
	err = s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             kafkaTopic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	s.Require().NoError(err)

	maintenanceDSN := fmt.Sprintf(
		"host=%s port=%s user=postgres password=postgres dbname=postgres sslmode=disable",
		pgHost, pgPort.Port())
	databaseDSN := fmt.Sprintf(
		"host=%s port=%s user=postgres password=postgres dbname=ledger sslmode=disable",
		pgHost, pgPort.Port())

	provisioner := ddl.Provisioner{
		Config: ddl.Config{
			DBName:   "ledger",
			Schema:   "ledger",
			Password: "test-login-password",
		},
		PostgresDSN: maintenanceDSN,
		DatabaseDSN: databaseDSN,
	}
	s.Require().NoError(provisioner.CreateDatabase(ctx))
	s.Require().NoError(provisioner.Provision(ctx))
	// the service provisions on every start, a second run must succeed
	s.Require().NoError(provisioner.Provision(ctx))
	s.Require().NoError(provisioner.SetTokenSecret(ctx, "test-token-secret"))

	s.db, err = csql.OpenWithSchema(databaseDSN, "ledger", "ledger")
	s.Require().NoError(err)

	store, err := docstore.NewFilesystem(s.T().TempDir())
	s.Require().NoError(err)

	s.router = mux.NewRouter()
	source := &access.TokenSource{DB: s.db}
	s.router.Use(access.NewJwtMiddleware(s.db, source))
	access.HandleLoginRoute(s.router, s.db, source)

	s.backend = backend.New(&backend.Builder{
		Config:       testConfigurationJSON,
		DB:           s.db,
		DDL:          provisioner.Config,
		Router:       s.router,
		SchemaBaseID: "https://test.example.com/schemas",
		Publisher:    backend.NewKafkaPublisher([]string{s.kafkaAddr}, kafkaTopic),
		DocStore:     store,
	})

	s.client = client.NewWithRouter(s.router).WithSuperuserAuthorization()
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.db != nil {
		s.db.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}
	if s.kafkaContainer != nil {
		s.Require().NoError(s.kafkaContainer.Terminate(ctx))
	}
	if s.postgresContainer != nil {
		s.Require().NoError(s.postgresContainer.Terminate(ctx))
	}
	if s.network != nil {
		s.network.Remove(ctx)
	}
}

// tenantClient returns a client authorized as a regular user of a fresh
// tenant and the tenant's id.
func (s *IntegrationTestSuite) tenantClient(name string) (client.Client, string) {
	var tenantID string
	err := s.db.QueryRow(`INSERT INTO un0.tenant (name) VALUES ($1) RETURNING id;`, name).Scan(&tenantID)
	s.Require().NoError(err)
	tenantID = strings.TrimSpace(tenantID)

	var userID string
	err = s.db.QueryRow(
		`INSERT INTO un0."user" (email, handle, tenant_id) VALUES ($1, $2, $3) RETURNING id;`,
		name+"@example.com", name, tenantID).Scan(&userID)
	s.Require().NoError(err)

	auth := &access.Authorization{
		UserID:   strings.TrimSpace(userID),
		Email:    name + "@example.com",
		TenantID: tenantID,
	}
	return client.NewWithRouter(s.router).WithAuthorization(auth), tenantID
}
