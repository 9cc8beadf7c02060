package relaysdk

import (
	"fmt"
	"runtime"
	"time"

	"github.com/imroc/req/v3"

	"github.com/confsync/confsync/internal/utils"
	"github.com/confsync/confsync/internal/version"
)

const (
	HeaderUserAgent       = "User-Agent"
	HeaderConfsyncVersion = "X-Confsync-Version"
	HeaderConfsyncReplica = "X-Confsync-Replica"
	HeaderConfsyncDevice  = "X-Confsync-Device-Id"
)

var ConfSyncUserAgent = fmt.Sprintf("ConfSync/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// A simple HTTP client with some common values set
var HTTPClient = req.C().
	SetCommonRetryCount(3).
	SetCommonRetryFixedInterval(1 * time.Second).
	SetUserAgent(ConfSyncUserAgent).
	SetCommonHeader(HeaderConfsyncVersion, version.Version).
	SetCommonHeader(HeaderConfsyncDevice, utils.HWID).
	SetJsonMarshal(jsonMarshal).
	SetJsonUnmarshal(jsonUnmarshal)
