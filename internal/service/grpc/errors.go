package grpcsvc

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Ключи метаданных запроса и ответа.
const (
	ActorHeader          = "x-actor"
	IdempotencyKeyHeader = "idempotency-key"
	ErrorKindTrailer     = "x-error-kind"
)

// StatusFromError переводит ошибку движка в gRPC-статус.
// Детали внутренних ошибок наружу не отдаются.
func StatusFromError(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.New(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return status.New(codes.Aborted, "request with the same idempotency key is already processing")
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		return status.New(codes.InvalidArgument, err.Error())
	case domain.KindNotFound:
		return status.New(codes.NotFound, err.Error())
	case domain.KindLocked, domain.KindNoChange, domain.KindIncompletePayment, domain.KindInvalidTransition:
		return status.New(codes.FailedPrecondition, err.Error())
	case domain.KindConflict:
		return status.New(codes.Aborted, err.Error())
	default:
		return status.New(codes.Internal, "internal error")
	}
}

// ErrorInterceptor логирует ошибки обработчиков и переводит их в статусы.
// Класс ошибки уходит клиенту в trailer x-error-kind.
func ErrorInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		kind := domain.KindOf(err)
		st := StatusFromError(err)
		entry := logger.WithFields(log.Fields{
			"method": info.FullMethod,
			"code":   st.Code().String(),
			"kind":   string(kind),
		})
		switch st.Code() {
		case codes.Internal, codes.Unknown:
			entry.WithError(err).Error("grpc request failed")
		case codes.Aborted:
			entry.WithError(err).Warn("grpc request aborted")
		default:
			entry.WithError(err).Debug("grpc request rejected")
		}

		if _, isStatus := status.FromError(err); !isStatus {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorKindTrailer, string(kind)))
		}
		return nil, st.Err()
	}
}

// ActorInterceptor кладёт в контекст пользователя из метаданных x-actor.
func ActorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if actor := incomingValue(ctx, ActorHeader); actor != "" {
			ctx = domain.WithActor(ctx, actor)
		}
		return handler(ctx, req)
	}
}

func incomingValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// RemoteError — ошибка сервера на стороне клиента. Kind восстанавливается
// из trailer, поэтому domain.KindOf работает и для удалённых вызовов.
type RemoteError struct {
	Code    codes.Code
	ErrKind domain.ErrorKind
	Message string
}

func (e *RemoteError) Error() string { return e.Code.String() + ": " + e.Message }

// Kind возвращает класс ошибки сервера.
func (e *RemoteError) Kind() domain.ErrorKind { return e.ErrKind }

// GRPCStatus позволяет status.FromError читать исходный код.
func (e *RemoteError) GRPCStatus() *status.Status { return status.New(e.Code, e.Message) }

func remoteError(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	kind := domain.ErrorKind("")
	if values := trailer.Get(ErrorKindTrailer); len(values) > 0 {
		kind = domain.ErrorKind(values[0])
	}
	if kind == "" {
		kind = kindFromCode(st.Code())
	}
	return &RemoteError{Code: st.Code(), ErrKind: kind, Message: st.Message()}
}

func kindFromCode(code codes.Code) domain.ErrorKind {
	switch code {
	case codes.InvalidArgument:
		return domain.KindValidation
	case codes.NotFound:
		return domain.KindNotFound
	case codes.Aborted:
		return domain.KindConflict
	default:
		return domain.KindInternal
	}
}
