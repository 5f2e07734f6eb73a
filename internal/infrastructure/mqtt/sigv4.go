package mqtt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	// sigV4Service is the signing name of the AWS IoT device gateway.
	sigV4Service = "iotdevicegateway"

	// sigV4Expiry bounds how long a presigned URL is accepted for the handshake.
	sigV4Expiry = 24 * time.Hour

	// sigV4Path is the WebSocket path the device gateway serves MQTT on.
	sigV4Path = "/mqtt"
)

// emptyPayloadHash is the SHA-256 of an empty body, hex encoded.
var emptyPayloadHash = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// SigV4Credentials are the AWS credentials used to presign the WebSocket URL.
// SessionToken is optional and only present for temporary credentials.
type SigV4Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// presigner builds SigV4 presigned wss:// URLs for one endpoint.
type presigner struct {
	signer *v4.Signer
	creds  SigV4Credentials
	host   string
	now    func() time.Time
}

func newPresigner(endpoint string, port int, creds SigV4Credentials) *presigner {
	host := endpoint
	if port != 0 && port != 443 {
		host = endpoint + ":" + strconv.Itoa(port)
	}
	return &presigner{
		signer: v4.NewSigner(),
		creds:  creds,
		host:   host,
		now:    time.Now,
	}
}

// Presign returns a freshly signed URL.
//
// The session token is appended after signing because the device gateway
// excludes it from the canonical request.
func (p *presigner) Presign(ctx context.Context) (*url.URL, error) {
	query := url.Values{}
	query.Set("X-Amz-Expires", strconv.Itoa(int(sigV4Expiry.Seconds())))

	u := &url.URL{
		Scheme:   "wss",
		Host:     p.host,
		Path:     sigV4Path,
		RawQuery: query.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building presign request: %w", err)
	}

	creds := aws.Credentials{
		AccessKeyID:     p.creds.AccessKeyID,
		SecretAccessKey: p.creds.SecretAccessKey,
	}

	signed, _, err := p.signer.PresignHTTP(ctx, creds, req, emptyPayloadHash, sigV4Service, p.creds.Region, p.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: presigning websocket url: %w", ErrInvalidCredentials, err)
	}

	if p.creds.SessionToken != "" {
		signed += "&X-Amz-Security-Token=" + url.QueryEscape(p.creds.SessionToken)
	}

	out, err := url.Parse(signed)
	if err != nil {
		return nil, fmt.Errorf("parsing presigned url: %w", err)
	}
	return out, nil
}

// RegionFromEndpoint extracts the AWS region from an IoT data endpoint such as
// "a1b2c3-ats.iot.eu-west-2.amazonaws.com". It returns "" when the endpoint
// does not follow that layout.
func RegionFromEndpoint(endpoint string) string {
	labels := strings.Split(endpoint, ".")
	for i := 0; i+2 < len(labels); i++ {
		if labels[i] == "iot" && strings.HasPrefix(labels[i+2], "amazonaws") {
			return labels[i+1]
		}
	}
	return ""
}
