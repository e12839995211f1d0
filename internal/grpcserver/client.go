package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ChaincodeClient calls coins.v1.Chaincode.
type ChaincodeClient struct {
	conn grpc.ClientConnInterface
}

// NewChaincodeClient wraps conn.
func NewChaincodeClient(conn grpc.ClientConnInterface) *ChaincodeClient {
	return &ChaincodeClient{conn: conn}
}

// WithCreator attaches a PEM creator certificate to outgoing calls made with ctx.
func WithCreator(ctx context.Context, creator []byte) context.Context {
	return metadata.AppendToOutgoingContext(ctx, CreatorMetadataKey, string(creator))
}

// Invoke calls a state-changing or read-only function and returns its JSON result.
func (client *ChaincodeClient) Invoke(ctx context.Context, function string, args ...string) ([]byte, error) {
	return client.call(ctx, invokeMethod, function, args)
}

// Query calls a read-only function and returns its JSON result.
func (client *ChaincodeClient) Query(ctx context.Context, function string, args ...string) ([]byte, error) {
	return client.call(ctx, queryMethod, function, args)
}

func (client *ChaincodeClient) call(ctx context.Context, method string, function string, args []string) ([]byte, error) {
	request, err := NewRequest(function, args...)
	if err != nil {
		return nil, err
	}
	response := new(wrapperspb.BytesValue)
	if err := client.conn.Invoke(ctx, method, request, response); err != nil {
		return nil, err
	}
	return response.GetValue(), nil
}

