package frameprocessing

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
)

const detectMethod = "/detection.DetectionService/Detect"

// RemoteDetector sends JPEG frames to the inference service and reads back
// detections as a generic struct message.
type RemoteDetector struct {
	timeout   time.Duration
	quality   int
	modelPath string
	cameraID  uint

	mu       sync.RWMutex
	conn     *grpc.ClientConn
	endpoint string

	lastFailTime     time.Time
	consecutiveFails int
	maxRetryBackoff  time.Duration
}

func NewRemoteDetector(cfg *config.Config, modelPath string, cameraID uint) (*RemoteDetector, error) {
	rd := &RemoteDetector{
		timeout:         cfg.AITimeout,
		quality:         cfg.JPEGQuality,
		modelPath:       modelPath,
		cameraID:        cameraID,
		maxRetryBackoff: 30 * time.Second,
	}
	if err := rd.connect(cfg.AIGRPCURL); err != nil {
		return nil, err
	}
	return rd, nil
}

func (rd *RemoteDetector) connect(endpoint string) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	if rd.conn != nil && rd.endpoint == endpoint {
		return nil
	}
	if rd.conn != nil {
		rd.conn.Close()
		rd.conn = nil
	}

	target, creds, err := parseGRPCEndpoint(endpoint)
	if err != nil {
		return fmt.Errorf("failed to parse AI endpoint %s: %w", endpoint, err)
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("failed to connect to AI service at %s: %w", target, err)
	}

	rd.conn = conn
	rd.endpoint = endpoint
	rd.consecutiveFails = 0

	log.Info().
		Uint("camera_id", rd.cameraID).
		Str("ai_endpoint", target).
		Bool("use_tls", creds.Info().SecurityProtocol == "tls").
		Msg("AI gRPC connection initialized")
	return nil
}

func (rd *RemoteDetector) Detect(ctx context.Context, frame models.Frame) ([]models.RawDetection, error) {
	if !rd.shouldRetry() {
		return nil, fmt.Errorf("AI service in backoff after %d consecutive failures", rd.failures())
	}

	mat, err := matOf(frame)
	if err != nil {
		return nil, err
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *mat, []int{gocv.IMWriteJpegQuality, rd.quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame as JPEG: %w", err)
	}
	image := base64.StdEncoding.EncodeToString(buf.GetBytes())
	buf.Close()

	req, err := structpb.NewStruct(map[string]any{
		"image":      image,
		"model_path": rd.modelPath,
		"camera_id":  float64(rd.cameraID),
	})
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}

	rd.mu.RLock()
	conn := rd.conn
	rd.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("AI client not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, rd.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(callCtx, detectMethod, req, resp); err != nil {
		rd.recordFailure()
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	rd.mu.Lock()
	rd.consecutiveFails = 0
	rd.mu.Unlock()

	return parseDetections(resp.AsMap()), nil
}

func (rd *RemoteDetector) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.conn == nil {
		return nil
	}
	err := rd.conn.Close()
	rd.conn = nil
	rd.endpoint = ""
	return err
}

// parseDetections reads {"detections": [{"class", "confidence", "box"}]}.
// Missing fields are left zero for the strategies to reject.
func parseDetections(m map[string]any) []models.RawDetection {
	items, _ := m["detections"].([]any)
	out := make([]models.RawDetection, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			out = append(out, models.RawDetection{})
			continue
		}
		var det models.RawDetection
		det.Class, _ = fields["class"].(string)
		det.Confidence, _ = fields["confidence"].(float64)
		if coords, ok := fields["box"].([]any); ok {
			for _, c := range coords {
				v, _ := c.(float64)
				det.Box = append(det.Box, v)
			}
		}
		out = append(out, det)
	}
	return out
}

// shouldRetry applies exponential backoff after failures: 1s, 2s, 4s ... 30s.
func (rd *RemoteDetector) shouldRetry() bool {
	rd.mu.RLock()
	defer rd.mu.RUnlock()

	if rd.consecutiveFails == 0 {
		return true
	}
	backoff := time.Duration(1<<uint(min(rd.consecutiveFails-1, 16))) * time.Second
	if backoff > rd.maxRetryBackoff {
		backoff = rd.maxRetryBackoff
	}
	return time.Since(rd.lastFailTime) >= backoff
}

func (rd *RemoteDetector) failures() int {
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	return rd.consecutiveFails
}

func (rd *RemoteDetector) recordFailure() {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	rd.consecutiveFails++
	rd.lastFailTime = time.Now()

	if rd.consecutiveFails <= 5 {
		log.Warn().
			Uint("camera_id", rd.cameraID).
			Int("consecutive_fails", rd.consecutiveFails).
			Msg("AI request failure recorded")
	}
}

// parseGRPCEndpoint normalizes host[:port] or a URL into a dial target and
// picks TLS for https and the usual TLS ports.
func parseGRPCEndpoint(endpoint string) (string, credentials.TransportCredentials, error) {
	if !strings.Contains(endpoint, "://") {
		host, port, found := strings.Cut(endpoint, ":")
		switch {
		case !found && strings.Contains(host, "."):
			endpoint = "https://" + endpoint + ":443"
		case found:
			if p, err := strconv.Atoi(port); err == nil && (p == 443 || p == 8443 || p == 9443) {
				endpoint = "https://" + endpoint
			} else {
				endpoint = "http://" + endpoint
			}
		default:
			endpoint = "https://" + endpoint + ":443"
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = u.Hostname() + ":443"
		case "http":
			host = u.Hostname() + ":80"
		default:
			return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
		}
	}

	var creds credentials.TransportCredentials
	switch u.Scheme {
	case "https":
		creds = credentials.NewTLS(&tls.Config{ServerName: u.Hostname()})
	case "http":
		creds = insecure.NewCredentials()
	default:
		return "", nil, fmt.Errorf("unsupported scheme: %s (supported: http, https)", u.Scheme)
	}
	return host, creds, nil
}
