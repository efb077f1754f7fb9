package service

import (
	"context"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/models"
)

// Dispatch routes a channel call by method name.
func (b *Bridge) Dispatch(ctx context.Context, call models.MethodCall) models.Response {
	switch call.Method {
	case "init":
		return b.Init(call.String("clientId"), call.String("key"), call.String("secret"))

	case "authorizeWithAccessToken":
		return b.AuthorizeWithAccessToken(call.String("provider"), call.String("accessToken"))

	case "getAccessToken":
		return b.GetAccessToken()

	case "listFolder":
		return b.ListFolder(ctx, call.String("path"))

	case "upload", "download":
		key, ok := call.Int("key")
		local, remote := call.String("filepath"), call.String("dropboxpath")
		if !ok || local == "" || remote == "" {
			return failure(apperror.CodeInvalidArgument, "Filepath, dropboxpath, or key is missing")
		}
		if call.Method == "upload" {
			return b.SubmitUpload(key, local, remote)
		}
		return b.SubmitDownload(key, remote, local)

	case "cancel":
		key, ok := call.Int("key")
		if !ok {
			return failure(apperror.CodeInvalidArgument, "key is missing")
		}
		return b.Cancel(key)

	case "tasks":
		return b.Tasks()

	case "authorize", "authorizePKCE":
		// interactive OAuth needs a browser; callers obtain the token themselves
		return failure(apperror.CodeNotImplemented, call.Method+" is not supported, use authorizeWithAccessToken")

	default:
		return failure(apperror.CodeNotImplemented, "method not implemented: "+call.Method)
	}
}
