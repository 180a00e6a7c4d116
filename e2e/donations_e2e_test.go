//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-donations/app/provider"
	"github.com/vibast-solutions/ms-go-donations/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	defaultDonationsHTTPBase = "http://localhost:48080"
	defaultDonationsGRPCAddr = "localhost:49090"

	grpcServicePrefix = "/donations.v1.DonationsService/"
)

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) do(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", fmt.Sprintf("e2e-http-%d", time.Now().UnixNano()))
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}

	return resp, bodyBytes
}

func (c *httpClient) doJSON(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
	}
	return c.do(t, method, path, data, nil)
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func waitForGRPC(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("grpc service not ready at %s", addr)
}

func grpcContext(requestID string) context.Context {
	ctx := context.Background()
	if requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", requestID)
	}
	return ctx
}

func checkoutBody(providerCode, key string) map[string]any {
	return map[string]any{
		"amount":          1500,
		"source":          "e2e",
		"provider":        providerCode,
		"return_url":      "https://donate.example/thanks",
		"cancel_url":      "https://donate.example/cancel",
		"idempotency_key": key,
	}
}

// providerOrderID reads the order id from the last segment of the hosted checkout URL.
func providerOrderID(t *testing.T, redirectURL string) string {
	t.Helper()

	parsed, err := url.Parse(redirectURL)
	if err != nil {
		t.Fatalf("invalid redirect url %q: %v", redirectURL, err)
	}
	return path.Base(parsed.Path)
}

func TestDonationsE2E(t *testing.T) {
	httpBase := envOrDefault("DONATIONS_HTTP_URL", defaultDonationsHTTPBase)
	grpcAddr := envOrDefault("DONATIONS_GRPC_ADDR", defaultDonationsGRPCAddr)
	payPaySecret := envOrDefault("PAYPAY_WEBHOOK_SECRET", "paypay-secret")

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}
	if err := waitForGRPC(grpcAddr, 30*time.Second); err != nil {
		t.Fatalf("grpc not ready: %v", err)
	}

	client := newHTTPClient(httpBase)

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc dial failed: %v", err)
	}
	defer conn.Close()

	runID := time.Now().UnixNano()

	t.Run("HTTPValidationCheckout", func(t *testing.T) {
		resp, _ := client.doJSON(t, http.MethodPost, "/api/donations/checkout", map[string]any{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for invalid checkout request, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPGetNotFound", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/api/donations/don_missing", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPWebhookInvalidSignature", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPost, "/api/webhooks/paypay", []byte(`{"state":"COMPLETED"}`), map[string]string{
			provider.PayPaySignatureHeader: "deadbeef",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPCheckoutWebhookFlow", func(t *testing.T) {
		key := fmt.Sprintf("e2e-%d", runID)
		resp, body := client.doJSON(t, http.MethodPost, "/api/donations/checkout", checkoutBody("paypay", key))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d body=%s", resp.StatusCode, string(body))
		}

		var checkout types.CheckoutResponse
		if err := json.Unmarshal(body, &checkout); err != nil {
			t.Fatalf("unmarshal checkout failed: %v body=%s", err, string(body))
		}

		resp, body = client.doJSON(t, http.MethodPost, "/api/donations/checkout", checkoutBody("paypay", key))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 on replay, got %d body=%s", resp.StatusCode, string(body))
		}

		webhook := []byte(fmt.Sprintf(`{"notification_id":"e2e-%d","state":"COMPLETED","order_id":%q}`, runID, providerOrderID(t, checkout.RedirectURL)))
		headers := map[string]string{provider.PayPaySignatureHeader: provider.ComputeSignature(payPaySecret, webhook)}

		resp, body = client.do(t, http.MethodPost, "/api/webhooks/paypay", webhook, headers)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}

		resp, body = client.do(t, http.MethodPost, "/api/webhooks/paypay", webhook, headers)
		var ack types.WebhookResponse
		if err := json.Unmarshal(body, &ack); err != nil || resp.StatusCode != http.StatusOK || ack.Status != "already_processed" {
			t.Fatalf("expected already_processed, got %d body=%s", resp.StatusCode, string(body))
		}

		resp, body = client.doJSON(t, http.MethodGet, "/api/donations/"+checkout.DonationID, nil)
		var donation types.DonationResponse
		if err := json.Unmarshal(body, &donation); err != nil {
			t.Fatalf("unmarshal donation failed: %v body=%s", err, string(body))
		}
		if donation.Status != "completed" || donation.CompletedAt == nil {
			t.Fatalf("expected completed donation, got %+v", donation)
		}
	})

	t.Run("GRPCMissingRequestID", func(t *testing.T) {
		err := conn.Invoke(context.Background(), grpcServicePrefix+"Health", &emptypb.Empty{}, new(structpb.Struct))
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument for missing x-request-id, got %v", err)
		}
	})

	t.Run("GRPCGetNotFound", func(t *testing.T) {
		ctx := grpcContext(fmt.Sprintf("e2e-grpc-%d", time.Now().UnixNano()))
		err := conn.Invoke(ctx, grpcServicePrefix+"GetDonation", wrapperspb.String("don_missing"), new(structpb.Struct))
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("GRPCCheckout", func(t *testing.T) {
		req, err := structpb.NewStruct(checkoutBody("rakuten", fmt.Sprintf("e2e-grpc-%d", runID)))
		if err != nil {
			t.Fatalf("struct build failed: %v", err)
		}

		out := new(structpb.Struct)
		ctx := grpcContext(fmt.Sprintf("e2e-grpc-%d", time.Now().UnixNano()))
		if err := conn.Invoke(ctx, grpcServicePrefix+"CreateCheckout", req, out); err != nil {
			t.Fatalf("grpc checkout failed: %v", err)
		}
		if out.GetFields()["donation_id"].GetStringValue() == "" {
			t.Fatalf("expected donation id, got %+v", out)
		}
	})
}
