package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/confsync/confsync/internal/relaysdk"
	"github.com/confsync/confsync/internal/version"
)

const heartbeatInterval = 30 * time.Second

// runHeartbeat reports liveness until ctx is cancelled. A failed beat
// only costs presence, so failures never escalate past a warning.
func (d *Daemon) runHeartbeat(ctx context.Context) {
	d.beat(ctx)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.beat(ctx)
		}
	}
}

func (d *Daemon) beat(ctx context.Context) {
	resp, err := d.sdk.Presence.Beat(ctx, heartbeatParams(ctx, d.config.ReplicaID))
	if err != nil {
		slog.Warn("heartbeat failed", "error", err)
		return
	}
	slog.Debug("heartbeat", "online", len(resp.OnlineReplicas))
}

// heartbeatParams gathers host stats on a best-effort basis; a replica
// that cannot read them still beats.
func heartbeatParams(ctx context.Context, replicaID string) *relaysdk.HeartbeatParams {
	params := &relaysdk.HeartbeatParams{
		ReplicaID:     replicaID,
		ClientVersion: version.Version,
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		params.Hostname = info.Hostname
		params.Platform = fmt.Sprintf("%s/%s", info.OS, info.Platform)
		params.UptimeSecs = info.Uptime
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
			params.ProcessRSS = mem.RSS
		}
	}

	return params
}
