package links

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingRemoteStore = errors.New("remote store is required")
	errMissingDatabase    = errors.New("database handle is required")
	errMissingRedisClient = errors.New("redis client is required")
	noOpLogger            = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew        = "links.store.new"
	opLoad            = "links.load"
	opDropLink        = "links.drop_link"
	opGetLink         = "links.get_link"
	opUpdateLink      = "links.update_link"
	opDeleteLink      = "links.delete_link"
	opRepositoryNew   = "links.repository.new"
	opInsert          = "links.insert"
	opFindActive      = "links.find_active"
	opListActive      = "links.list_active"
	opUpdateContent   = "links.update_content"
	opDelete          = "links.delete"
	opPurgeExpired    = "links.purge_expired"
	fieldCode         = "code"
	fieldCreatorID    = "creator_id"
	reasonInvalid     = "invalid_input"
	reasonCapacity    = "capacity_exceeded"
	reasonNotOwner    = "not_owner"
	reasonCodeSpace   = "code_space_exhausted"
	reasonRemote      = "remote_failed"
	reasonQuery       = "query_failed"
	reasonMissingDB   = "missing_database"
	reasonMissingRds  = "missing_redis"
	reasonMissingRmt  = "missing_remote_store"
	reasonCodeTaken   = "code_taken"
	reasonEncodeFail  = "encode_failed"
	reasonDecodeFail  = "decode_failed"
	reasonTransaction = "transaction_failed"
	reasonUnsupported = "unsupported"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ErrorCode extracts the service error code from err, or returns an empty string.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("links service error", attrs...)
}
