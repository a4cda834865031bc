package runner_test

import (
	"testing"

	"github.com/sophialabs/apiscenario/internal/domain/runner"
)

func TestClientRequest_URL(t *testing.T) {
	req := runner.ClientRequest{
		Path:       "/subscriptions/{subscriptionId}/resourceGroups/{resourceGroupName}",
		PathParams: map[string]string{"subscriptionId": "sub", "resourceGroupName": "my rg"},
		Query:      map[string]string{"api-version": "2020-06-01", "$expand": "x"},
	}
	got := req.URL("https://management.azure.com/")
	want := "https://management.azure.com/subscriptions/sub/resourceGroups/my%20rg?%24expand=x&api-version=2020-06-01"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestClientRequest_URLAbsolute(t *testing.T) {
	req := runner.ClientRequest{Path: "https://other/x?a=1", Query: map[string]string{"b": "2"}}
	if got := req.URL("https://ignored"); got != "https://other/x?a=1&b=2" {
		t.Errorf("unexpected url %s", got)
	}
}
