// Package escrow reads escrow state and manifests and checks whether an
// escrow is in a state the oracle may act on.
package escrow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/transport"
)

// GatewayReader fetches escrow data from an HTTP gateway in front of the
// chain. GET {base}/escrows/{chain_id}/{address} returns the escrow; the
// manifest is fetched from the escrow's manifest_url.
type GatewayReader struct {
	BaseURL string
	Client  *transport.RESTAdapter
	Timeout time.Duration
}

func NewGatewayReader(baseURL string, client *transport.RESTAdapter) *GatewayReader {
	if client == nil {
		client = transport.NewRESTAdapter(nil)
	}
	return &GatewayReader{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:  client,
		Timeout: 15 * time.Second,
	}
}

func (r *GatewayReader) GetEscrow(ctx context.Context, chainID int64, address string) (core.Escrow, error) {
	if r == nil || r.Client == nil || r.BaseURL == "" {
		return core.Escrow{}, fmt.Errorf("escrow: gateway reader is not configured")
	}
	target := fmt.Sprintf("%s/escrows/%s/%s", r.BaseURL, strconv.FormatInt(chainID, 10), url.PathEscape(address))
	body, err := r.fetch(ctx, target, "escrow")
	if err != nil {
		return core.Escrow{}, err
	}
	doc := gjson.ParseBytes(body)
	escrow := core.Escrow{
		Address:         address,
		ChainID:         chainID,
		Status:          core.EscrowStatus(doc.Get("status").String()),
		Balance:         doc.Get("balance").String(),
		ManifestURL:     doc.Get("manifest_url").String(),
		JobLauncher:     doc.Get("launcher").String(),
		RecordingOracle: doc.Get("recording_oracle").String(),
		ExchangeOracle:  doc.Get("exchange_oracle").String(),
	}
	if escrow.Status == "" {
		return core.Escrow{}, core.NewExternalResourceError("escrow gateway", fmt.Errorf("escrow %s has no status", address))
	}
	return escrow, nil
}

// GetManifest reads the fields the lifecycle engine needs from the manifest.
func (r *GatewayReader) GetManifest(ctx context.Context, escrow core.Escrow) (core.Manifest, error) {
	if r == nil || r.Client == nil {
		return core.Manifest{}, fmt.Errorf("escrow: gateway reader is not configured")
	}
	if strings.TrimSpace(escrow.ManifestURL) == "" {
		return core.Manifest{}, core.NewEscrowStateError(fmt.Sprintf("escrow %s has no manifest", escrow.Address))
	}
	body, err := r.fetch(ctx, escrow.ManifestURL, "manifest")
	if err != nil {
		return core.Manifest{}, err
	}
	return ParseManifest(body)
}

// ParseManifest extracts the job type, data location, labels and sizing.
func ParseManifest(body []byte) (core.Manifest, error) {
	if !gjson.ValidBytes(body) {
		return core.Manifest{}, core.NewEscrowStateError("manifest is not valid json")
	}
	doc := gjson.ParseBytes(body)
	manifest := core.Manifest{
		JobType: doc.Get("annotation.type").String(),
		DataURL: doc.Get("data.data_url").String(),
		JobSize: int(doc.Get("annotation.job_size").Int()),
	}
	for _, label := range doc.Get("annotation.labels").Array() {
		name := label.Get("name").String()
		if name == "" {
			name = label.String()
		}
		if name != "" {
			manifest.Labels = append(manifest.Labels, name)
		}
	}
	if seconds := doc.Get("annotation.max_time").Int(); seconds > 0 {
		manifest.AssignmentTime = time.Duration(seconds) * time.Second
	}
	if manifest.JobType == "" {
		return core.Manifest{}, core.NewEscrowStateError("manifest annotation.type is required")
	}
	if manifest.DataURL == "" {
		return core.Manifest{}, core.NewEscrowStateError("manifest data.data_url is required")
	}
	if manifest.JobSize <= 0 {
		manifest.JobSize = 10
	}
	return manifest, nil
}

func (r *GatewayReader) fetch(ctx context.Context, target string, resource string) ([]byte, error) {
	res, err := r.Client.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     target,
		Timeout: r.Timeout,
	})
	if err != nil {
		return nil, core.NewExternalResourceError(resource, err)
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, core.NewNotFoundError(fmt.Sprintf("%s not found", resource))
	}
	if !res.Success() {
		return nil, core.NewExternalResourceError(resource, fmt.Errorf("unexpected status %d", res.StatusCode))
	}
	return res.Body, nil
}

var _ core.EscrowReader = (*GatewayReader)(nil)
