package test

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"

	"github.com/notorm-tech/un0/core"
	"github.com/notorm-tech/un0/core/access"
	"github.com/notorm-tech/un0/core/backend"
	"github.com/notorm-tech/un0/core/client"
)

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration suite needs docker")
	}
	suite.Run(t, new(IntegrationTestSuite))
}

var ulidRegexp = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)

func (s *IntegrationTestSuite) TestCustomerLifecycle() {
	collection := s.client.Collection("customer")

	var created map[string]any
	status, err := collection.Create(map[string]any{
		"name":  "Nordic Traders",
		"email": "office@nordic.example.com",
		"phone": "+49 30 1234567",
	}, &created)
	s.Require().NoError(err)
	s.Equal(http.StatusCreated, status)
	id, _ := created["id"].(string)
	s.Regexp(ulidRegexp, id)
	s.NotEmpty(created["created_at"])

	item := collection.Item(id)

	var read map[string]any
	_, err = item.Read(&read)
	s.Require().NoError(err)
	s.Equal("Nordic Traders", read["name"])

	// patch changes one field and keeps the rest
	_, err = item.Patch(map[string]any{"id": id, "email": "sales@nordic.example.com"}, nil)
	s.Require().NoError(err)
	_, err = item.Read(&read)
	s.Require().NoError(err)
	s.Equal("sales@nordic.example.com", read["email"])
	s.Equal("+49 30 1234567", read["phone"])

	// put replaces the object, omitted fields are cleared
	_, err = item.Update(map[string]any{"id": id, "name": "Nordic Traders GmbH"}, nil)
	s.Require().NoError(err)
	_, err = item.Read(&read)
	s.Require().NoError(err)
	s.Equal("Nordic Traders GmbH", read["name"])
	s.Nil(read["phone"])

	// soft delete hides the row, it remains visible with ?deleted
	status, err = item.Delete()
	s.Require().NoError(err)
	s.Equal(http.StatusNoContent, status)
	status, _ = item.Read(nil)
	s.Equal(http.StatusNotFound, status)

	var deleted []map[string]any
	_, err = collection.WithParameter("deleted", "true").WithFilter("name=Nordic Traders GmbH").List(&deleted)
	s.Require().NoError(err)
	s.Require().Len(deleted, 1)
	s.Equal(true, deleted[0]["is_deleted"])

	// purge removes it for good
	status, err = item.Purge()
	s.Require().NoError(err)
	s.Equal(http.StatusNoContent, status)
	_, err = collection.WithParameter("deleted", "true").WithFilter("name=Nordic Traders GmbH").List(&deleted)
	s.Require().NoError(err)
	s.Empty(deleted)
}

func (s *IntegrationTestSuite) TestValidation() {
	collection := s.client.Collection("customer")

	// required property missing
	status, _ := collection.Create(map[string]any{"email": "nameless@example.com"}, nil)
	s.Equal(http.StatusUnprocessableEntity, status)

	// unknown property
	status, _ = collection.Create(map[string]any{"name": "X", "shoe_size": 43}, nil)
	s.Equal(http.StatusUnprocessableEntity, status)

	// malformed id in the path
	status, _ = s.client.RawGet("/customers/not-a-ulid", nil)
	s.Equal(http.StatusBadRequest, status)

	// illegal list parameter
	status, _ = s.client.RawGet("/customers?limit=0", nil)
	s.Equal(http.StatusBadRequest, status)
	status, _ = s.client.RawGet("/customers?filter=shoe_size=43", nil)
	s.Equal(http.StatusBadRequest, status)
}

func (s *IntegrationTestSuite) TestReferencesAndCascade() {
	customers := s.client.Collection("customer")
	orders := s.client.Collection("sales_order")

	var customer map[string]any
	_, err := customers.Create(map[string]any{"name": "Cascade Works"}, &customer)
	s.Require().NoError(err)
	customerID := customer["id"].(string)

	// the reference is required
	status, _ := orders.Create(map[string]any{"order_no": "SO-900", "status": "draft"}, nil)
	s.Equal(http.StatusUnprocessableEntity, status)

	var order map[string]any
	status, err = orders.Create(map[string]any{
		"order_no":    "SO-901",
		"status":      "draft",
		"customer_id": customerID,
	}, &order)
	s.Require().NoError(err)
	s.Equal(http.StatusCreated, status)

	// a duplicate order number is a conflict
	status, _ = orders.Create(map[string]any{
		"order_no":    "SO-901",
		"status":      "draft",
		"customer_id": customerID,
	}, nil)
	s.Equal(http.StatusConflict, status)

	// children expands the referencing rows into the parent
	var expanded map[string]any
	_, err = customers.Item(customerID).WithParameter("children", "sales_order").Read(&expanded)
	s.Require().NoError(err)
	childOrders, ok := expanded["sales_orders"].([]any)
	s.Require().True(ok)
	s.Require().Len(childOrders, 1)
	s.Equal("SO-901", childOrders[0].(map[string]any)["order_no"])

	// an unrelated resource is rejected as child
	status, _ = customers.Item(customerID).WithParameter("children", "item").Read(nil)
	s.Equal(http.StatusBadRequest, status)

	// purging the customer cascades to its orders
	_, err = customers.Item(customerID).Purge()
	s.Require().NoError(err)
	status, _ = orders.Item(order["id"].(string)).Read(nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *IntegrationTestSuite) TestFiltersAndPagination() {
	items := s.client.Collection("item")

	prices := []float64{1.50, 4.20, 9.99, 12.00, 25.50}
	for i, price := range prices {
		_, err := items.Create(map[string]any{
			"sku":        "FLT-" + string(rune('A'+i)),
			"unit_price": price,
		}, nil)
		s.Require().NoError(err)
	}

	var expensive []map[string]any
	_, err := items.WithFilter("unit_price.greater_than=9").List(&expensive)
	s.Require().NoError(err)
	s.Len(expensive, 3)

	var exact []map[string]any
	_, err = items.WithFilter("sku=FLT-C").List(&exact)
	s.Require().NoError(err)
	s.Require().Len(exact, 1)
	s.Equal(9.99, exact[0]["unit_price"])

	page := items.WithParameter("limit", "2").FirstPage()
	var first []map[string]any
	_, err = page.Get(&first)
	s.Require().NoError(err)
	s.Len(first, 2)
	s.GreaterOrEqual(page.TotalCount(), 5)

	total := 0
	for page := items.WithParameter("limit", "2").FirstPage(); page.HasData(); page = page.Next() {
		var chunk []map[string]any
		_, err := page.Get(&chunk)
		s.Require().NoError(err)
		total += len(chunk)
	}
	s.Equal(page.TotalCount(), total)
}

func (s *IntegrationTestSuite) TestTenantIsolation() {
	alpha, alphaTenant := s.tenantClient("alpha")
	beta, _ := s.tenantClient("beta")

	var created map[string]any
	status, err := alpha.Collection("customer").Create(map[string]any{"name": "Alpha Only"}, &created)
	s.Require().NoError(err)
	s.Equal(http.StatusCreated, status)
	s.Equal(alphaTenant, created["tenant_id"])
	id := created["id"].(string)

	// the other tenant sees neither the row nor the item
	var betaList []map[string]any
	_, err = beta.Collection("customer").WithFilter("name=Alpha Only").List(&betaList)
	s.Require().NoError(err)
	s.Empty(betaList)
	status, _ = beta.Collection("customer").Item(id).Read(nil)
	s.Equal(http.StatusNotFound, status)

	// the superuser sees everything
	var all []map[string]any
	_, err = s.client.Collection("customer").WithFilter("name=Alpha Only").List(&all)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *IntegrationTestSuite) TestLoginAuthorization() {
	var tenantID string
	err := s.db.QueryRow(`INSERT INTO un0.tenant (name) VALUES ('gamma') RETURNING id;`).Scan(&tenantID)
	s.Require().NoError(err)
	tenantID = strings.TrimSpace(tenantID)

	var userID string
	err = s.db.QueryRow(
		`INSERT INTO un0."user" (email, handle, tenant_id) VALUES ('gamma@example.com', 'gamma', $1) RETURNING id;`,
		tenantID).Scan(&userID)
	s.Require().NoError(err)
	userID = strings.TrimSpace(userID)

	// the tenant insert trigger created the default group
	var groupID string
	err = s.db.QueryRow(`SELECT id FROM un0."group" WHERE tenant_id = $1;`, tenantID).Scan(&groupID)
	s.Require().NoError(err)

	var roleID string
	err = s.db.QueryRow(
		`INSERT INTO un0.role (tenant_id, name) VALUES ($1, 'bookkeeper') RETURNING id;`,
		tenantID).Scan(&roleID)
	s.Require().NoError(err)
	_, err = s.db.Exec(
		`INSERT INTO un0.user_group_role (user_id, group_id, role_id) VALUES ($1, $2, $3);`,
		userID, groupID, roleID)
	s.Require().NoError(err)

	anonymous := client.NewWithRouter(s.router)
	var login map[string]string
	status, err := anonymous.RawPost("/login", map[string]string{"email": "gamma@example.com"}, &login)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Require().NotEmpty(login["token"])

	// the authorization carries tenant, group and role assignments
	var auth access.Authorization
	status, err = anonymous.WithHeader("Authorization", "Bearer "+login["token"]).
		RawGet("/authorization", &auth)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Equal(userID, auth.UserID)
	s.Equal(tenantID, auth.TenantID)
	s.Contains(auth.Groups, "gamma")
	s.Contains(auth.Roles, "bookkeeper")
}

func (s *IntegrationTestSuite) TestFilterFields() {
	var fields []map[string]any
	status, err := s.client.RawGet("/filterfields/item", &fields)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)

	var accessors []string
	for _, f := range fields {
		accessors = append(accessors, f["accessor"].(string))
	}
	s.Contains(accessors, "sku")
	s.Contains(accessors, "unit_price")

	status, err = s.client.RawGet("/filterfields/ghost", nil)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *IntegrationTestSuite) TestAttachmentDocument() {
	scans := s.client.Collection("invoice_scan")

	var created map[string]any
	_, err := scans.Create(map[string]any{"name": "invoice march"}, &created)
	s.Require().NoError(err)
	item := scans.Item(created["id"].(string))

	status, err := item.UploadDocument("application/pdf", []byte("%PDF-1.7 test"))
	s.Require().NoError(err)
	s.Equal(http.StatusNoContent, status)

	var document []byte
	contentType, status, err := item.DownloadDocument(&document)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Equal("application/pdf", contentType)
	s.Equal("%PDF-1.7 test", string(document))

	// purge removes the document together with the row
	_, err = item.Purge()
	s.Require().NoError(err)
	_, status, _ = item.DownloadDocument(&document)
	s.Equal(http.StatusNotFound, status)
}

func (s *IntegrationTestSuite) TestEventsAndKafka() {
	received := make(chan backend.Event, 1)
	s.backend.RequestEvents(func(event backend.Event) error {
		received <- event
		return nil
	}, backend.EventRequest{
		Resource:   "item",
		Operations: []core.Operation{core.OperationInsert},
	})

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{s.kafkaAddr},
		Topic:   kafkaTopic,
		GroupID: "ledger-test",
	})
	defer reader.Close()

	var created map[string]any
	_, err := s.client.Collection("item").Create(map[string]any{
		"sku":        "EVT-1",
		"unit_price": 3.33,
	}, &created)
	s.Require().NoError(err)
	id := created["id"].(string)

	select {
	case event := <-received:
		s.Equal("item", event.Resource)
		s.Equal(core.OperationInsert, event.Operation)
		s.Equal(id, event.ResourceID)
	case <-time.After(10 * time.Second):
		s.Fail("no event received")
	}

	// the publisher forwards every committed change to the broker
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		message, err := reader.ReadMessage(ctx)
		s.Require().NoError(err)
		var payload struct {
			Resource   string `json:"resource"`
			Operation  string `json:"operation"`
			ResourceID string `json:"resource_id"`
		}
		s.Require().NoError(json.Unmarshal(message.Value, &payload))
		if payload.ResourceID == id {
			s.Equal("item", payload.Resource)
			s.Equal("insert", payload.Operation)
			return
		}
	}
}
