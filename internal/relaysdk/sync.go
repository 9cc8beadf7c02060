package relaysdk

import (
	"context"
	"fmt"
	"strconv"

	"github.com/imroc/req/v3"

	"github.com/confsync/confsync/internal/conflict"
)

const (
	v1SyncReport    = "/api/v1/sync/report"
	v1SyncChanges   = "/api/v1/sync/changes"
	v1SyncConflicts = "/api/v1/sync/conflicts"
)

// SyncAPI reports local versions to the relay and follows what the
// other replicas reported.
type SyncAPI struct {
	client *req.Client
}

func newSyncAPI(client *req.Client) *SyncAPI {
	return &SyncAPI{
		client: client,
	}
}

// Report submits a batch of locally committed versions. The relay
// answers per version: accepted, duplicate, or conflict.
func (s *SyncAPI) Report(ctx context.Context, params *ReportParams) (apiResp *ReportResponse, err error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v1SyncReport)

	if err := handleAPIError(resp, err, "sync report"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

// Changes fetches one page of the relay's change feed.
func (s *SyncAPI) Changes(ctx context.Context, params *ChangesParams) (apiResp *ChangesResponse, err error) {
	r := s.client.R().
		SetContext(ctx).
		SetQueryParam("since", strconv.FormatInt(params.Since, 10)).
		SetSuccessResult(&apiResp)

	if params.Pattern != "" {
		r.SetQueryParam("pattern", params.Pattern)
	}
	if params.Limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(params.Limit))
	}

	resp, err := r.Get(v1SyncChanges)

	if err := handleAPIError(resp, err, "sync changes"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

// Conflicts lists the relay's open conflict records.
func (s *SyncAPI) Conflicts(ctx context.Context) ([]*conflict.Conflict, error) {
	var apiResp ConflictsResponse

	resp, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1SyncConflicts)

	if err := handleAPIError(resp, err, "sync conflicts"); err != nil {
		return nil, err
	}

	return apiResp.Conflicts, nil
}

// ResolveConflict records how a conflict was settled and returns the
// updated record.
func (s *SyncAPI) ResolveConflict(ctx context.Context, conflictID string, params *ResolveConflictParams) (*conflict.Conflict, error) {
	var record conflict.Conflict

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&record).
		Post(fmt.Sprintf("%s/%s/resolve", v1SyncConflicts, conflictID))

	if err := handleAPIError(resp, err, "resolve conflict "+conflictID); err != nil {
		return nil, err
	}

	return &record, nil
}
