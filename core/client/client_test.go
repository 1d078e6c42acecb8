package client

import (
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	client := NewWithRouter(nil)

	id := "01JD5W9VXCJ3M0F7YB4N2QRTKZ"

	collection := client.Collection("sales_order")
	assert.Equal(t, "/sales_orders", collection.Path())
	assert.Equal(t, "/sales_orders/"+id, collection.Item(id).Path())

	filtered := collection.WithFilter("total.greater_than=100").WithParameter("limit", "10")
	assert.Equal(t, "/sales_orders?filter=total.greater_than%3D100&limit=10", filtered.Path())
	// the original collection is unchanged
	assert.Equal(t, "/sales_orders", collection.Path())

	purge := collection.Item(id).WithParameter("purge", "true")
	assert.Equal(t, "/sales_orders/"+id+"?purge=true", purge.Path())
}

func TestClientAgainstRouter(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/customers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"name": "Nordic Traders"})
	}).Methods(http.MethodPost)
	router.HandleFunc("/customers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Pagination-Page-Count", "3")
		w.Header().Set("Pagination-Total-Count", "250")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{{"name": "Nordic Traders"}})
	}).Methods(http.MethodGet)
	router.HandleFunc("/customers/{customer_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	client := NewWithRouter(router)
	collection := client.Collection("customer")

	var created map[string]any
	status, err := collection.Create(map[string]any{"name": "Nordic Traders"}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Nordic Traders", created["name"])

	page := collection.FirstPage()
	var list []map[string]any
	status, err = page.Get(&list)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 250, page.TotalCount())
	assert.True(t, page.Next().HasData())

	status, err = collection.Item("01JD5W9VXCJ3M0F7YB4N2QRTKZ").Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	// errors surface the response body
	status, err = collection.Item("01JD5W9VXCJ3M0F7YB4N2QRTKZ").Read(nil)
	assert.Error(t, err)
	assert.NotEqual(t, http.StatusOK, status)
}
