/*
Package client provides easy and fast access to the generic REST api.

The client either talks to a running service through a URL, or directly
to the mux router without marshalling HTTP. The in-process variant is
the tool of choice when one request handler needs to call other handlers
to fulfill its task, and it is perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/notorm-tech/un0/core"
	"github.com/notorm-tech/un0/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the
// backend, through the mux router.
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend.
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	c.defaultHeaders[key] = value
	return c
}

// WithToken returns a new client carrying a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAuthorization returns a new client with a specific authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithSuperuserAuthorization returns a new client with superuser
// authorization (this works only directly against the mux router)
func (c Client) WithSuperuserAuthorization() Client {
	return c.WithAuthorization(&access.Authorization{IsSuperuser: true})
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of this client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = c.auth.ContextWithAuthorization(ctx)
	}
	return ctx
}

// Collection represents the collection of one mapped resource
type Collection struct {
	resource   string
	client     *Client
	parameters []string
}

// Collection returns a new collection client for the resource
func (c Client) Collection(resource string) Collection {
	return Collection{
		client:   &c,
		resource: resource,
	}
}

// WithParameter returns a new collection client with a URL parameter added.
func (r Collection) WithParameter(key string, value string) Collection {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Collection{
		client:   r.client,
		resource: r.resource,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, r.parameters...), parameter),
	}
}

// WithFilter returns a new collection client with a filter parameter
// added. The constraint is of the form "accessor.lookup=value", the
// lookup defaults to equal.
func (r Collection) WithFilter(constraint string) Collection {
	return r.WithParameter("filter", constraint)
}

// Path returns the collection path plus optional query strings
func (r Collection) Path() string {
	path := "/" + core.Plural(r.resource)
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// Create creates a new item.
//
// The operation corresponds to a POST request.
//
// Expects http.StatusCreated as response, otherwise it will flag an
// error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.Path(), body, result)
}

// List gets one page of the collection.
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will flag an error.
// Returns the actual http status code.
//
// result can be *[]map[string]interface{} or a raw *[]byte.
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.Path(), result)
}

// Item represents a single item in a collection
type Item struct {
	col        Collection
	id         string
	parameters []string
}

// Item gets an item client for the row with the given id
func (r Collection) Item(id string) Item {
	return Item{col: r, id: id}
}

// WithParameter returns a new item client with a URL parameter added.
func (r Item) WithParameter(key string, value string) Item {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Item{
		id:  r.id,
		col: r.col,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, r.parameters...), parameter),
	}
}

// Path returns the created path for this item
func (r Item) Path() string {
	path := "/" + core.Plural(r.col.resource) + "/" + r.id
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// Read reads the item.
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will flag an error.
// Returns the actual http status code.
//
// result can also be *map[string]interface{} or a raw *[]byte.
func (r Item) Read(result interface{}) (int, error) {
	return r.col.client.RawGet(r.Path(), result)
}

// Update replaces the item.
//
// The operation corresponds to a PUT request.
//
// Expects http.StatusOK as valid response, otherwise it will flag an
// error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPut(r.Path(), body, result)
}

// Patch updates selected fields of the item.
//
// Expects http.StatusOK as valid response, otherwise it will flag an
// error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Item) Patch(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPatch(r.Path(), body, result)
}

// Delete soft-deletes the item. Pass Purge to remove it for good.
//
// The operation corresponds to a DELETE request.
//
// Expects http.StatusNoContent as response, otherwise it will flag an
// error. Returns the actual http status code.
func (r Item) Delete() (int, error) {
	return r.col.client.RawDelete(r.Path())
}

// Purge hard-deletes the item.
func (r Item) Purge() (int, error) {
	return r.WithParameter("purge", "true").Delete()
}

// UploadDocument stores the item's attachment document.
//
// The operation corresponds to a PUT request on the document route.
func (r Item) UploadDocument(contentType string, document []byte) (int, error) {
	return r.col.client.RawPutBlob(r.Path()+"/document",
		map[string]string{"Content-Type": contentType}, document)
}

// DownloadDocument reads the item's attachment document and returns its
// content type.
func (r Item) DownloadDocument(document *[]byte) (string, int, error) {
	status, header, err := r.col.client.RawGetBlobWithHeader(r.Path()+"/document", nil, document)
	return header.Get("Content-Type"), status, err
}

// Page is a requester for one page in a collection
type Page struct {
	r          Collection
	page       int
	pageCount  int
	totalCount int
}

// FirstPage returns a requester for the first page of a collection.
//
// Do not specify the page parameter when using the page requester, as
// it manages the page itself. You can set all other parameters,
// including limit.
func (r Collection) FirstPage() Page {
	return Page{page: 1, r: r}
}

// HasData returns true if the page has data (by definition true for the first page)
func (p Page) HasData() bool {
	return p.page == 1 || p.page <= p.pageCount
}

// TotalCount returns the total number of elements (only available after you have called Get on the page)
func (p Page) TotalCount() int {
	return p.totalCount
}

// Get gets one page of the collection
func (p *Page) Get(result interface{}) (int, error) {
	path := p.r.WithParameter("page", strconv.Itoa(p.page)).Path()
	status, header, err := p.r.client.RawGetWithHeader(path, map[string]string{}, result)
	if err != nil {
		return status, err
	}
	if pageCount, err := strconv.Atoi(header.Get("Pagination-Page-Count")); err == nil {
		p.pageCount = pageCount
	}
	if totalCount, err := strconv.Atoi(header.Get("Pagination-Total-Count")); err == nil {
		p.totalCount = totalCount
	}
	return status, nil
}

// Next returns the next page
func (p Page) Next() Page {
	return Page{
		r:         p.r,
		page:      p.page + 1,
		pageCount: p.pageCount,
	}
}

// do issues the request either through the router or over HTTP
func (c Client) do(r *http.Request) (*http.Response, []byte, error) {
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Result(), rec.Body.Bytes(), nil
	}
	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res, resBody, nil
}

func unmarshalResult(resBody []byte, result interface{}) error {
	if resBody == nil || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

// RawGet gets the resource from path. Expects http.StatusOK as
// response, otherwise it will flag an error. Returns the actual http
// status code.
//
// The path can be extended with query strings.
//
// result can be *map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets the resource from path and additionally returns
// the response header.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodGet, c.url+path, nil)
	for key, value := range header {
		r.Header.Add(key, value)
	}
	res, resBody, err := c.do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	status := res.StatusCode
	if status == http.StatusNoContent {
		return status, res.Header, nil
	}
	if status != http.StatusOK {
		return status, res.Header, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	return status, res.Header, unmarshalResult(resBody, result)
}

// RawGetBlobWithHeader gets a binary resource from path.
func (c Client) RawGetBlobWithHeader(path string, header map[string]string, blob *[]byte) (int, http.Header, error) {
	status, resHeader, err := c.RawGetWithHeader(path, header, blob)
	return status, resHeader, err
}

// RawPost posts a resource to path. Expects http.StatusCreated or
// http.StatusOK as response, otherwise it will flag an error. Returns
// the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	var err error
	j, ok := body.([]byte)
	if !ok {
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("POST to %s: %w", path, err)
		}
	}

	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPost, c.url+path, bytes.NewBuffer(j))
	res, resBody, err := c.do(r)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	status := res.StatusCode
	if status != http.StatusCreated && status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusCreated, strings.TrimSpace(string(resBody)))
	}
	return status, unmarshalResult(resBody, result)
}

// RawPut puts a resource to path. Expects http.StatusOK,
// http.StatusCreated or http.StatusNoContent as valid responses,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	var err error
	j, ok := body.([]byte)
	if !ok {
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("PUT to %s: %w", path, err)
		}
	}

	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPut, c.url+path, bytes.NewBuffer(j))
	res, resBody, err := c.do(r)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	status := res.StatusCode
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return status, fmt.Errorf("put got status=%d body=%s", status, strings.TrimSpace(string(resBody)))
	}
	return status, unmarshalResult(resBody, result)
}

// RawPutBlob puts a binary resource to path. Expects http.StatusOK,
// http.StatusCreated or http.StatusNoContent as valid responses,
// otherwise it will flag an error. Returns the actual http status code.
func (c Client) RawPutBlob(path string, header map[string]string, blob []byte) (int, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPut, c.url+path, bytes.NewBuffer(blob))
	for key, value := range header {
		r.Header.Add(key, value)
	}
	res, resBody, err := c.do(r)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	status := res.StatusCode
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return status, errors.New(strings.TrimSpace(string(resBody)))
	}
	return status, nil
}

// RawPatch puts a patch to path. Expects http.StatusOK,
// http.StatusCreated or http.StatusNoContent as valid responses,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	var err error
	j, ok := body.([]byte)
	if !ok {
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, err
		}
	}

	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPatch, c.url+path, bytes.NewBuffer(j))
	res, resBody, err := c.do(r)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	status := res.StatusCode
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return status, errors.New(strings.TrimSpace(string(resBody)))
	}
	return status, unmarshalResult(resBody, result)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent
// as response, otherwise it will flag an error. Returns the actual http
// status code.
func (c Client) RawDelete(path string) (int, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodDelete, c.url+path, nil)
	res, resBody, err := c.do(r)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	status := res.StatusCode
	if status != http.StatusNoContent {
		return status, errors.New(strings.TrimSpace(string(resBody)))
	}
	return status, nil
}
