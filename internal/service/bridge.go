package service

import (
	"context"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/logger"
	"github.com/rolledback/cloudbridge/internal/models"
	"github.com/rolledback/cloudbridge/internal/provider"
	"github.com/rolledback/cloudbridge/internal/transfer"
)

const notLoggedIn = "Client not logged in. Authorization token is missing."

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// StorageDir holds per-provider settings.json files with stored credentials.
	StorageDir string
	// ProviderID is the provider used until a caller picks another one.
	// Empty falls back to the storage root's defaultProvider.
	ProviderID string
}

// session is the caller's connection state. It lives as long as the Bridge.
type session struct {
	clientID    string
	appKey      string
	appSecret   string
	providerID  string
	accessToken string
	store       provider.RemoteStore
}

// Bridge answers channel calls: folder listing, transfer submission and
// credential handling. Every method returns a Response and never an error.
type Bridge struct {
	providers  *provider.Registry
	tasks      *transfer.Registry
	storageDir string
	log        logrus.FieldLogger

	mu      sync.Mutex
	session session
}

func NewBridge(providers *provider.Registry, tasks *transfer.Registry, opts BridgeOptions, log logrus.FieldLogger) *Bridge {
	b := &Bridge{
		providers:  providers,
		tasks:      tasks,
		storageDir: opts.StorageDir,
		log:        logger.Or(log).WithField("component", "bridge"),
	}
	b.session.providerID = opts.ProviderID
	return b
}

// Init records the application identity used for later authorization.
func (b *Bridge) Init(clientID, key, secret string) models.Response {
	if clientID == "" {
		return failure(apperror.CodeInvalidArgument, "Initialization failed: Client ID is null")
	}

	b.mu.Lock()
	b.session.clientID = clientID
	b.session.appKey = key
	b.session.appSecret = secret
	b.mu.Unlock()

	b.log.WithField("client_id", clientID).Info("bridge initialized")
	return models.OK("Initialization successful.", nil)
}

// AuthorizeWithAccessToken builds a store from token. providerID switches the
// session to another provider when set.
func (b *Bridge) AuthorizeWithAccessToken(providerID, token string) models.Response {
	if token == "" {
		return failure(apperror.CodeInvalidArgument, "Authorization failed: access token is missing")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if providerID == "" {
		providerID = b.providerIDLocked()
	}
	store, err := b.providers.Create(providerID, provider.Settings{
		ClientID:    b.session.clientID,
		AccessToken: token,
	})
	if err != nil {
		return models.Fail("Authorization failed: ", err)
	}

	b.session.providerID = providerID
	b.session.accessToken = token
	b.session.store = store

	b.log.WithField("provider", providerID).Info("authorized with access token")
	return models.OK("Authorization with access token succeeded.", nil)
}

// GetAccessToken returns the session token, or the stored one.
func (b *Bridge) GetAccessToken() models.Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := b.session.accessToken
	if token == "" {
		if _, settings, err := b.providers.Restore(b.storageDir, b.providerIDLocked()); err == nil {
			token = settings.AccessToken
		}
	}
	return models.OK("Access token retrieved successfully.", map[string]interface{}{"accessToken": token})
}

// ListFolder lists every entry of path, following continuation cursors.
func (b *Bridge) ListFolder(ctx context.Context, path string) models.Response {
	store, err := b.store()
	if err != nil {
		return failure(apperror.CodeOf(err), err.Error())
	}

	entries, err := provider.ListAll(ctx, store, path)
	if err != nil {
		if apperror.CodeOf(err) == apperror.CodeInternal {
			err = apperror.Wrap(apperror.CodeStore, err, "")
		}
		b.log.WithError(err).WithField("path", path).Warn("folder listing failed")
		return models.Fail("Failed to list folder: ", err)
	}

	paths := make([]models.FolderEntry, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, models.NewFolderEntry(e))
	}
	return models.OK("Folder listing successful.", models.FolderListing{Paths: paths})
}

// SubmitUpload starts uploading localPath to remotePath as task id. The
// outcome is reported through the notifier.
func (b *Bridge) SubmitUpload(id int64, localPath, remotePath string) models.Response {
	return b.submit(transfer.Request{ID: id, Direction: transfer.Upload, LocalPath: localPath, RemotePath: remotePath})
}

// SubmitDownload starts downloading remotePath to localPath as task id.
func (b *Bridge) SubmitDownload(id int64, remotePath, localPath string) models.Response {
	return b.submit(transfer.Request{ID: id, Direction: transfer.Download, LocalPath: localPath, RemotePath: remotePath})
}

func (b *Bridge) submit(req transfer.Request) models.Response {
	if req.LocalPath == "" || req.RemotePath == "" {
		return failure(apperror.CodeInvalidArgument, "Filepath, dropboxpath, or key is missing")
	}
	store, err := b.store()
	if err != nil {
		return failure(apperror.CodeOf(err), err.Error())
	}

	task, err := b.tasks.Submit(store, req)
	if err != nil {
		return failure(apperror.CodeOf(err), err.Error())
	}
	return models.OK("Transfer started.", models.TaskAccepted{TaskID: task.ID, RunID: task.RunID})
}

// Cancel requests cancellation of a live task.
func (b *Bridge) Cancel(id int64) models.Response {
	if !b.tasks.Cancel(id) {
		return failure(apperror.CodeInvalidArgument, "no running task with that key")
	}
	return models.OK("Cancellation requested.", nil)
}

// Tasks lists the live tasks.
func (b *Bridge) Tasks() models.Response {
	return models.OK("Tasks retrieved successfully.", b.tasks.Active())
}

// store returns the session store, restoring a stored credential on first use.
func (b *Bridge) store() (provider.RemoteStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session.store != nil {
		return b.session.store, nil
	}

	providerID := b.providerIDLocked()
	if providerID == "" {
		return b.discoverLocked()
	}
	store, settings, err := b.providers.Restore(b.storageDir, providerID)
	if err != nil {
		if !os.IsNotExist(err) {
			b.log.WithError(err).WithField("provider", providerID).Warn("stored credential unusable")
		}
		return nil, apperror.New(apperror.CodeUnauthorized, notLoggedIn)
	}

	b.session.store = store
	b.session.accessToken = settings.AccessToken
	b.log.WithField("provider", providerID).Info("restored stored credential")
	return store, nil
}

// discoverLocked adopts the stored credential when exactly one provider has one.
func (b *Bridge) discoverLocked() (provider.RemoteStore, error) {
	stores, err := b.providers.Discover(b.storageDir)
	if err != nil {
		b.log.WithError(err).Warn("provider discovery failed")
	}
	if len(stores) != 1 {
		return nil, apperror.New(apperror.CodeUnauthorized, notLoggedIn)
	}
	for id, store := range stores {
		b.session.providerID = id
		b.session.store = store
		b.log.WithField("provider", id).Info("using discovered provider")
		return store, nil
	}
	return nil, apperror.New(apperror.CodeUnauthorized, notLoggedIn)
}

func (b *Bridge) providerIDLocked() string {
	if b.session.providerID != "" {
		return b.session.providerID
	}
	root, err := provider.LoadRootSettings(b.storageDir)
	if err == nil && root.DefaultProvider != "" {
		return root.DefaultProvider
	}
	return ""
}

func failure(code apperror.Code, message string) models.Response {
	return models.Response{Success: false, Message: message, Code: code}
}
