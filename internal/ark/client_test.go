package ark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	client, err := NewClient(url, "seedream-4-5", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient("", "seedream-4-5"); err != ErrBaseURLRequired {
		t.Errorf("expected ErrBaseURLRequired, got %v", err)
	}
	if _, err := NewClient("https://ark.example.com", ""); err != ErrModelRequired {
		t.Errorf("expected ErrModelRequired, got %v", err)
	}
}

func TestAspectRatioFor(t *testing.T) {
	if ratio, ok := AspectRatioFor("tiktok"); !ok || ratio != "9:16" {
		t.Errorf("tiktok ratio = %s, %v", ratio, ok)
	}
	if ratio, ok := AspectRatioFor("Instagram"); !ok || ratio != "1:1" {
		t.Errorf("instagram ratio = %s, %v", ratio, ok)
	}
	if _, ok := AspectRatioFor("youtube"); ok {
		t.Error("unmapped platform must report no ratio")
	}
}

func TestGenerateImage(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/images/generations" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://cdn.example.com/frame.jpg"}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithAPIKey("ak-test"))

	refs := []string{"https://cdn/portrait.jpg", " ", "https://cdn/scene.jpg"}
	url, err := client.GenerateImage(context.Background(), "factory owner portrait", refs, "tiktok")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if url != "https://cdn.example.com/frame.jpg" {
		t.Errorf("url = %s", url)
	}

	if gotBody["aspect_ratio"] != "9:16" {
		t.Errorf("aspect_ratio = %v", gotBody["aspect_ratio"])
	}
	images, ok := gotBody["image"].([]any)
	if !ok || len(images) != 2 {
		t.Errorf("image field = %v, want two reference URLs", gotBody["image"])
	}
	prompt, _ := gotBody["prompt"].(string)
	if !strings.Contains(prompt, "参考图片") || !strings.Contains(prompt, "factory owner portrait") {
		t.Errorf("prompt missing reference hint or original text: %q", prompt)
	}
}

func TestGenerateImage_SingleReferenceIsString(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://cdn.example.com/frame.jpg"}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	if _, err := client.GenerateImage(context.Background(), "p", []string{"https://cdn/only.jpg"}, "instagram"); err != nil {
		t.Fatal(err)
	}
	if gotBody["image"] != "https://cdn/only.jpg" {
		t.Errorf("single reference should be a plain string, got %v", gotBody["image"])
	}
}

func TestGenerateImage_NoReferences(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://cdn.example.com/frame.jpg"}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	if _, err := client.GenerateImage(context.Background(), "plain prompt", nil, "youtube"); err != nil {
		t.Fatal(err)
	}
	if _, present := gotBody["image"]; present {
		t.Error("image field must be omitted without references")
	}
	if _, present := gotBody["aspect_ratio"]; present {
		t.Error("aspect_ratio must be omitted for unmapped platforms")
	}
	if gotBody["prompt"] != "plain prompt" {
		t.Errorf("prompt must be unmodified without references, got %v", gotBody["prompt"])
	}
}

func TestGenerateImage_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusForbidden)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.GenerateImage(context.Background(), "p", nil, "")
		if err == nil || !strings.Contains(err.Error(), "403") {
			t.Errorf("expected status error, got %v", err)
		}
	})

	t.Run("no usable url", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data": [{"url": "not-a-url"}]}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.GenerateImage(context.Background(), "p", nil, "")
		if !errors.Is(err, ErrNoImageURL) {
			t.Errorf("expected ErrNoImageURL, got %v", err)
		}
	})
}
