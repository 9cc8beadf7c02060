package relaysdk

import (
	"context"
	"time"

	"github.com/imroc/req/v3"
)

const (
	v1Heartbeat = "/api/v1/heartbeat"
	v1Replicas  = "/api/v1/replicas"
)

// PresenceAPI reports this replica's liveness and lists the fleet.
type PresenceAPI struct {
	client *req.Client
}

func newPresenceAPI(client *req.Client) *PresenceAPI {
	return &PresenceAPI{
		client: client,
	}
}

type HeartbeatParams struct {
	ReplicaID     string `json:"replica_id"`
	Hostname      string `json:"hostname,omitempty"`
	Platform      string `json:"platform,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
	UptimeSecs    uint64 `json:"uptime_secs,omitempty"`
	ProcessRSS    uint64 `json:"process_rss,omitempty"`
}

type HeartbeatResponse struct {
	Status         string    `json:"status"`
	ServerTime     time.Time `json:"server_time"`
	OnlineReplicas []string  `json:"online_replicas"`
}

// ReplicaInfo is a known replica and when it last checked in.
type ReplicaInfo struct {
	ReplicaID     string    `json:"replica_id"`
	User          string    `json:"user"`
	Hostname      string    `json:"hostname,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	ClientVersion string    `json:"client_version,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

type ReplicasResponse struct {
	Replicas []*ReplicaInfo `json:"replicas"`
	Online   []string       `json:"online"`
}

// Beat tells the relay this replica is alive and returns who else is.
func (p *PresenceAPI) Beat(ctx context.Context, params *HeartbeatParams) (apiResp *HeartbeatResponse, err error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v1Heartbeat)

	if err := handleAPIError(resp, err, "heartbeat"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

// Replicas lists every replica the relay has seen and which are online.
func (p *PresenceAPI) Replicas(ctx context.Context) (apiResp *ReplicasResponse, err error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1Replicas)

	if err := handleAPIError(resp, err, "list replicas"); err != nil {
		return nil, err
	}

	return apiResp, nil
}
