package replay

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	subscriptionID = "00977cdb-163f-435f-9c32-39ec8ae61f4d"
	resourceGroup  = "xplatTestGCreate9241"
	apiVersion     = "api-version=2014-04-01-preview"
	operationID    = "eyJqb2JJZCI6IlJFU09VUkNFR1JPVVBERUxFVElPTkpPQi1YUExBVFRFU1RHQ1JFQVRFOTI0MS1XRVNUVVMiLCJqb2JMb2NhdGlvbiI6Indlc3R1cyJ9"
	browserCookie  = "browserId=76873a3620824d2ba3ef4ad66a1542ae; domain=gallery.azure.com; path=/; secure; HttpOnly"
)

var (
	galleryPath       = "/Microsoft.Gallery/galleryitems/Microsoft.ASPNETStarterSite.0.2.2-preview"
	resourceGroupPath = fmt.Sprintf("/subscriptions/%s/resourcegroups/%s?%s", subscriptionID, resourceGroup, apiVersion)
	listGroupsPath    = fmt.Sprintf("/subscriptions/%s/resourcegroups?%s", subscriptionID, apiVersion)
	operationPath     = fmt.Sprintf("/subscriptions/%s/operationresults/%s?%s", subscriptionID, operationID, apiVersion)
	notFoundBody      = fmt.Sprintf(`{"error":{"code":"ResourceGroupNotFound","message":"Resource group '%s' could not be found."}}`, resourceGroup)
	createdBody       = fmt.Sprintf(`{"id":"/subscriptions/%s/resourceGroups/%s","name":"%s","location":"westus","tags":{},"properties":{"provisioningState":"Succeeded"}}`, subscriptionID, resourceGroup, resourceGroup)
)

type recordedCall struct {
	id       string
	host     string
	method   string
	path     string
	body     BodyMatcher
	status   int
	respBody string
	headers  []Header
}

// armCalls is the create-empty-group scenario, one entry per logical call.
func armCalls() []recordedCall {
	location := Header{Name: "location", Values: []string{"https://management.azure.com" + operationPath}}
	return []recordedCall{
		{
			id: "gallery", host: "gallery.azure.com", method: http.MethodGet, path: galleryPath,
			status: 200, respBody: `{"identity":"Microsoft.ASPNETStarterSite.0.2.2-preview"}`,
			headers: []Header{
				{Name: "content-type", Values: []string{"application/json; charset=utf-8"}},
				{Name: "set-cookie", Values: []string{browserCookie}},
			},
		},
		{
			id: "get-group", host: "management.azure.com", method: http.MethodGet, path: resourceGroupPath,
			status: 404, respBody: notFoundBody,
			headers: []Header{{Name: "x-ms-failure-cause", Values: []string{"gateway"}}},
		},
		{
			id: "create-group", host: "management.azure.com", method: http.MethodPut, path: resourceGroupPath,
			body: AnyBody(), status: 201, respBody: createdBody,
		},
		{
			id: "list-groups", host: "management.azure.com", method: http.MethodGet, path: listGroupsPath,
			status: 200, respBody: `{"value":[]}`,
		},
		{
			id: "delete-group", host: "management.azure.com", method: http.MethodDelete, path: resourceGroupPath,
			status: 202, headers: []Header{location, {Name: "retry-after", Values: []string{"15"}}},
		},
		{
			id: "poll-delete", host: "management.azure.com", method: http.MethodGet, path: operationPath,
			status: 202, headers: []Header{location, {Name: "retry-after", Values: []string{"15"}}},
		},
	}
}

// buildScope records every call over http and https, like the recorder did.
func buildScope(t *testing.T, calls []recordedCall, schemes ...string) *Scope {
	t.Helper()
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}

	var interactions []*Interaction
	for _, c := range calls {
		for _, scheme := range schemes {
			interaction, err := NewInteraction(InteractionDefinition{
				ID:     scheme + "-" + c.id,
				Origin: scheme + "://" + c.host + ":443",
				Method: c.method,
				Path:   c.path,
				Body:   c.body,
				Response: ResponseDefinition{
					Status:  c.status,
					Body:    c.respBody,
					Headers: c.headers,
				},
			})
			require.NoError(t, err)
			interactions = append(interactions, interaction)
		}
	}

	scope, err := NewScope("arm_group_create_should_create_empty_group", interactions, []string{resourceGroup})
	require.NoError(t, err)
	return scope
}

func newRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	return req
}

func readAll(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(data)
}

func management(path string) string {
	return "https://management.azure.com:443" + path
}
