package openapi

import (
	"net/http"
	"testing"
)

func TestLoad(t *testing.T) {
	doc, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	routes := []struct {
		path   string
		method string
	}{
		{"/api/v1/storage/allocations", http.MethodPost},
		{"/api/v1/storage/objects", http.MethodPost},
		{"/api/v1/storage/objects/{objectId}", http.MethodGet},
		{"/api/v1/compute/tasks/{taskId}/execute", http.MethodPost},
		{"/api/v1/bandwidth/nearest", http.MethodGet},
		{"/api/v1/participants/{participantId}/rewards", http.MethodGet},
		{"/api/v1/alerts/{alertId}/resolve", http.MethodPost},
		{"/api/v1/maintenance/reconcile", http.MethodPost},
	}
	for _, r := range routes {
		item := doc.Paths.Find(r.path)
		if item == nil {
			t.Errorf("путь %s отсутствует в контракте", r.path)
			continue
		}
		if item.GetOperation(r.method) == nil {
			t.Errorf("операция %s %s отсутствует в контракте", r.method, r.path)
		}
	}
}

func TestRaw(t *testing.T) {
	if len(Raw()) == 0 {
		t.Fatal("Raw: пустой контракт")
	}
}
