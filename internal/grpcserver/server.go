// Package grpcserver exposes the contract dispatcher as the coins.v1.Chaincode gRPC service.
package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/coins/internal/contract"
	"github.com/MarkoPoloResearchLab/coins/internal/identity"
	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "coins.v1.Chaincode"

	invokeMethod = "/" + ServiceName + "/Invoke"
	queryMethod  = "/" + ServiceName + "/Query"

	requestFieldFunction = "function"
	requestFieldArgs     = "args"
)

// Dispatcher runs named contract functions. *contract.Dispatcher implements it.
type Dispatcher interface {
	Invoke(ctx context.Context, function string, args []string) (any, error)
	Query(ctx context.Context, function string, args []string) (any, error)
}

// ChaincodeService is the server-side contract of coins.v1.Chaincode.
type ChaincodeService interface {
	Invoke(ctx context.Context, request *structpb.Struct) (*wrapperspb.BytesValue, error)
	Query(ctx context.Context, request *structpb.Struct) (*wrapperspb.BytesValue, error)
}

// ChaincodeServer answers Invoke and Query calls with the JSON encoding of the dispatcher result.
type ChaincodeServer struct {
	dispatcher Dispatcher
}

// NewChaincodeServer constructs a ChaincodeServer.
func NewChaincodeServer(dispatcher Dispatcher) (*ChaincodeServer, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher dependency is nil", ledger.ErrInvalidServiceConfig)
	}
	return &ChaincodeServer{dispatcher: dispatcher}, nil
}

func (server *ChaincodeServer) Invoke(ctx context.Context, request *structpb.Struct) (*wrapperspb.BytesValue, error) {
	function, args, err := ParseRequest(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, err := server.dispatcher.Invoke(ctx, function, args)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return encodeResult(result)
}

func (server *ChaincodeServer) Query(ctx context.Context, request *structpb.Struct) (*wrapperspb.BytesValue, error) {
	function, args, err := ParseRequest(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, err := server.dispatcher.Query(ctx, function, args)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return encodeResult(result)
}

// NewRequest builds the {function, args} request message.
func NewRequest(function string, args ...string) (*structpb.Struct, error) {
	values := make([]any, 0, len(args))
	for _, arg := range args {
		values = append(values, arg)
	}
	return structpb.NewStruct(map[string]any{
		requestFieldFunction: function,
		requestFieldArgs:     values,
	})
}

// ParseRequest extracts the function name and string arguments from a request message.
func ParseRequest(request *structpb.Struct) (string, []string, error) {
	fields := request.GetFields()
	functionValue, ok := fields[requestFieldFunction]
	if !ok {
		return "", nil, fmt.Errorf("%w: function is required", ledger.ErrMalformedRequest)
	}
	if _, isString := functionValue.GetKind().(*structpb.Value_StringValue); !isString {
		return "", nil, fmt.Errorf("%w: function must be a string", ledger.ErrMalformedRequest)
	}
	function := functionValue.GetStringValue()
	args := []string{}
	argsValue, ok := fields[requestFieldArgs]
	if !ok {
		return function, args, nil
	}
	list, isList := argsValue.GetKind().(*structpb.Value_ListValue)
	if !isList {
		return "", nil, fmt.Errorf("%w: args must be a list", ledger.ErrMalformedRequest)
	}
	for index, value := range list.ListValue.GetValues() {
		text, isString := value.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return "", nil, fmt.Errorf("%w: arg %d must be a string", ledger.ErrMalformedRequest, index)
		}
		args = append(args, text.StringValue)
	}
	return function, args, nil
}

func encodeResult(result any) (*wrapperspb.BytesValue, error) {
	payload, err := contract.Marshal(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(payload), nil
}

func mapToGRPCError(source error) error {
	if _, isStatus := status.FromError(source); isStatus {
		return source
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	switch ledger.ErrorCode(source) {
	case ledger.CodeInvalidAmount, ledger.CodeMalformedRequest:
		return status.Error(codes.InvalidArgument, source.Error())
	case ledger.CodeInsufficientFunds, ledger.CodeNotInitialized:
		return status.Error(codes.FailedPrecondition, source.Error())
	case ledger.CodePermissionDenied:
		return status.Error(codes.PermissionDenied, source.Error())
	case ledger.CodeIdentity:
		return status.Error(codes.Unauthenticated, source.Error())
	case ledger.CodeStateConflict:
		return status.Error(codes.Aborted, source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}

// RegisterChaincodeServer registers service under ServiceName.
func RegisterChaincodeServer(registrar grpc.ServiceRegistrar, service ChaincodeService) {
	registrar.RegisterService(&chaincodeServiceDesc, service)
}

var chaincodeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChaincodeService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
		{MethodName: "Query", Handler: queryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coins/v1/chaincode.proto",
}

func invokeHandler(service any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(structpb.Struct)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return service.(ChaincodeService).Invoke(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: service, FullMethod: invokeMethod}
	handler := func(ctx context.Context, request any) (any, error) {
		return service.(ChaincodeService).Invoke(ctx, request.(*structpb.Struct))
	}
	return interceptor(ctx, request, info, handler)
}

func queryHandler(service any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(structpb.Struct)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return service.(ChaincodeService).Query(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: service, FullMethod: queryMethod}
	handler := func(ctx context.Context, request any) (any, error) {
		return service.(ChaincodeService).Query(ctx, request.(*structpb.Struct))
	}
	return interceptor(ctx, request, info, handler)
}

// NewServer builds a grpc.Server with the creator and logging interceptors and the chaincode service registered.
// certificates may be nil, in which case only anonymous calls are served.
func NewServer(dispatcher Dispatcher, certificates *identity.CertificateVerifier, logger *zap.Logger, options ...grpc.ServerOption) (*grpc.Server, error) {
	chaincode, err := NewChaincodeServer(dispatcher)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	options = append(options, grpc.ChainUnaryInterceptor(LoggingInterceptor(logger), CreatorInterceptor(certificates)))
	server := grpc.NewServer(options...)
	RegisterChaincodeServer(server, chaincode)
	return server, nil
}
