// Command signalbridge-link is an operator tool that requests a new
// device-linking URI from the Signal gateway and renders it as a
// terminal QR code, the signal-cli-rest-api convention for linking a
// second device to an existing Signal account.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/nugget/signalbridge/internal/httpkit"
)

func main() {
	endpoint := flag.String("endpoint", "", "Signal gateway host:port (required)")
	deviceName := flag.String("device-name", "signalbridge", "name to register for the linked device")
	flag.Parse()

	if *endpoint == "" {
		fmt.Fprintln(os.Stderr, "signalbridge-link: -endpoint is required")
		os.Exit(1)
	}

	if err := run(*endpoint, *deviceName); err != nil {
		fmt.Fprintln(os.Stderr, "signalbridge-link:", err)
		os.Exit(1)
	}
}

type linkResponse struct {
	DeviceLinkURI string `json:"deviceLinkUri"`
}

func run(endpoint, deviceName string) error {
	client := httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))

	u := fmt.Sprintf("http://%s/v1/qrcodelink?device_name=%s", endpoint, url.QueryEscape(deviceName))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request device link: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<16)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var parsed linkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if parsed.DeviceLinkURI == "" {
		return fmt.Errorf("gateway response had no deviceLinkUri")
	}

	qr, err := qrcode.New(parsed.DeviceLinkURI, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("build QR code: %w", err)
	}

	fmt.Println(qr.ToString(false))
	fmt.Println(parsed.DeviceLinkURI)
	return nil
}
