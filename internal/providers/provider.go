package providers

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/pwa-marketplace/backend/internal/bridge"
	"github.com/pwa-marketplace/backend/internal/shared/types"
)

// Provider executes the actions of one protocol. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Protocol is the name requests are routed by.
	Protocol() string
	// Execute runs one action. Failures are reported in the response,
	// not as errors: a provider-level error would tear down the whole
	// request, and action failures are ordinary outcomes.
	Execute(ctx context.Context, req types.MCPRequest) types.MCPResponse
}

// AsHandler adapts a provider to the bridge's byte-level handler contract.
func AsHandler(p Provider) bridge.HandlerFunc {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		env, err := bridge.DecodeRequest(payload)
		if err != nil {
			return nil, err
		}
		resp := p.Execute(ctx, env.MCPRequest)
		return sonic.Marshal(resp)
	}
}

// RegisterAll registers every provider on the bridge under its protocol
// name.
func RegisterAll(b *bridge.Bridge, all ...Provider) {
	for _, p := range all {
		b.RegisterProtocol(p.Protocol(), AsHandler(p))
	}
}

func success(data map[string]interface{}) types.MCPResponse {
	return types.OkResponse(data)
}

func failure(format string, args ...interface{}) types.MCPResponse {
	return types.ErrResponse(fmt.Sprintf(format, args...))
}
