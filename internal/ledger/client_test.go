package ledger_test

import (
	"context"
	"testing"

	"todochain/internal/ledger"
	"todochain/internal/testutil"
)

const endpoint = "https://rpc.example.com/"

func TestGetOwnedObjectsDecodesPage(t *testing.T) {
	server := testutil.NewRPCServer(t, endpoint)
	server.SetResult("suix_getOwnedObjects", map[string]any{
		"data": []any{
			map[string]any{
				"data": map[string]any{
					"objectId": "0xabc",
					"type":     "0x2::todo_nft::TodoNFT",
					"content": map[string]any{
						"dataType": "moveObject",
						"type":     "0x2::todo_nft::TodoNFT",
						"fields":   map[string]any{"title": "from rpc"},
					},
				},
			},
		},
		"hasNextPage": true,
		"nextCursor":  "cursor-1",
	})

	client := ledger.NewClient(endpoint)

	page, err := client.GetOwnedObjects(context.Background(), ledger.OwnedObjectsQuery{
		Owner:      "0xowner",
		StructType: "0x2::todo_nft::TodoNFT",
	})
	if err != nil {
		t.Fatalf("GetOwnedObjects: %v", err)
	}

	if len(page.Data) != 1 {
		t.Fatalf("expected 1 object, got %d", len(page.Data))
	}

	obj := page.Data[0]
	if obj.Data == nil || obj.Data.ObjectID != "0xabc" {
		t.Fatalf("unexpected object %+v", obj)
	}
	if obj.Data.Content == nil || obj.Data.Content.Fields["title"] != "from rpc" {
		t.Fatalf("unexpected content %+v", obj.Data.Content)
	}
	if !page.HasNextPage || page.NextCursor != "cursor-1" {
		t.Fatalf("unexpected pagination state %+v", page)
	}
}

func TestGetObjectDecodesSingleObject(t *testing.T) {
	server := testutil.NewRPCServer(t, endpoint)
	server.SetResult("sui_getObject", map[string]any{
		"data": map[string]any{
			"objectId": "0xabc",
			"content": map[string]any{
				"dataType": "moveObject",
				"fields":   map[string]any{"title": "single"},
			},
		},
	})

	client := ledger.NewClient(endpoint)

	obj, err := client.GetObject(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if obj.Data == nil || obj.Data.ObjectID != "0xabc" {
		t.Fatalf("unexpected object %+v", obj)
	}
}

func TestMultiGetObjectsEmptyInputSkipsCall(t *testing.T) {
	// No fake server installed: a network call would fail the test.
	client := ledger.NewClient(endpoint)

	objects, err := client.MultiGetObjects(context.Background(), nil)
	if err != nil {
		t.Fatalf("MultiGetObjects: %v", err)
	}
	if objects != nil {
		t.Fatalf("expected no objects, got %+v", objects)
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	testutil.NewRPCServer(t, endpoint)

	// The method is unscripted, so the transport rejects it.
	client := ledger.NewClient(endpoint)

	_, err := client.GetObject(context.Background(), "0xabc")
	if err == nil {
		t.Fatalf("expected transport error for unscripted method")
	}
}
