package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// CredentialChecker refuses provider credentials that could never build a provider.
type CredentialChecker interface {
	CheckAPNs(creds notification.APNsCredentials) error
	CheckFCMV1(ctx context.Context, credentials []byte) error
}

type TenantAPI struct {
	Store     dispatch.TenantStore
	Checker   CredentialChecker
	AllowNoop bool
	Logger    *slog.Logger
}

func NewTenantAPI(store dispatch.TenantStore, checker CredentialChecker, allowNoop bool, logger *slog.Logger) *TenantAPI {
	return &TenantAPI{
		Store:     store,
		Checker:   checker,
		AllowNoop: allowNoop,
		Logger:    logger.With("component", "TenantAPI"),
	}
}

type CreateTenantRequest struct {
	ID string `json:"id"`
}

// TenantView is the public shape of a tenant. Credentials never leave the relay.
type TenantView struct {
	ID            string                      `json:"id"`
	Providers     []notification.ProviderKind `json:"providers"`
	APNs          *APNsView                   `json:"apns,omitempty"`
	APNsSuspended bool                        `json:"apns_suspended"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

type APNsView struct {
	Type    notification.APNsAuthType `json:"type"`
	Topic   string                    `json:"topic"`
	Sandbox bool                      `json:"sandbox"`
}

func (api *TenantAPI) view(t *notification.Tenant) TenantView {
	v := TenantView{
		ID:            t.ID,
		Providers:     t.Providers(api.AllowNoop),
		APNsSuspended: t.APNsSuspended,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	if v.Providers == nil {
		v.Providers = []notification.ProviderKind{}
	}
	if t.APNs.Type != "" {
		v.APNs = &APNsView{Type: t.APNs.Type, Topic: t.APNs.Topic, Sandbox: t.APNs.Sandbox}
	}
	return v
}

func (api *TenantAPI) respondTenant(w http.ResponseWriter, r *http.Request, id string, status int) {
	tenant, err := api.Store.GetTenant(r.Context(), id)
	if err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	writeJSON(w, r, status, api.view(tenant))
}

// Create registers a tenant. An empty body or id yields a generated id.
func (api *TenantAPI) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, api.Logger, relayerr.Newf(relayerr.KindInvalidBody, "failed to read body: %w", err))
		return
	}
	var req CreateTenantRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := render.DecodeJSON(bytes.NewReader(body), &req); err != nil {
			writeError(w, r, api.Logger, relayerr.Newf(relayerr.KindInvalidBody, "failed to decode tenant: %w", err))
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := api.Store.CreateTenant(r.Context(), &notification.Tenant{ID: req.ID}); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	api.Logger.Info("Tenant created", "tenant_id", req.ID)
	api.respondTenant(w, r, req.ID, http.StatusCreated)
}

func (api *TenantAPI) Get(w http.ResponseWriter, r *http.Request) {
	api.respondTenant(w, r, r.PathValue("tenant_id"), http.StatusOK)
}

func (api *TenantAPI) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tenant_id")
	if err := api.Store.DeleteTenant(r.Context(), id); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	api.Logger.Info("Tenant deleted", "tenant_id", id)
	writeJSON(w, r, http.StatusOK, statusBody{Status: "SUCCESS"})
}

var (
	certificateFields = []string{"certificate", "certificate_password"}
	tokenFields       = []string{"private_key", "key_id", "team_id"}
)

// UpdateAPNs accepts a multipart form carrying exactly one of: a certificate
// set, a token key set, or only topic/sandbox changes to stored credentials.
func (api *TenantAPI) UpdateAPNs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("tenant_id")

	form, err := parseForm(w, r)
	if err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	values := make(map[string][]byte)
	for _, name := range append(append([]string{"topic", "sandbox"}, certificateFields...), tokenFields...) {
		v, err := formBytes(form, name)
		if err != nil {
			writeError(w, r, api.Logger, err)
			return
		}
		if len(v) > 0 {
			values[name] = v
		}
	}

	tenant, err := api.Store.GetTenant(ctx, id)
	if err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	creds := tenant.APNs

	nCert, nToken := countPresent(values, certificateFields), countPresent(values, tokenFields)
	switch {
	case nCert == len(certificateFields) && nToken == 0:
		creds.Type = notification.APNsAuthCertificate
		creds.Certificate = values["certificate"]
		creds.CertificatePassword = string(values["certificate_password"])
		creds.PKCS8PEM, creds.KeyID, creds.TeamID = nil, "", ""
	case nToken == len(tokenFields) && nCert == 0:
		creds.Type = notification.APNsAuthToken
		creds.PKCS8PEM = values["private_key"]
		creds.KeyID = string(values["key_id"])
		creds.TeamID = string(values["team_id"])
		creds.Certificate, creds.CertificatePassword = nil, ""
	case nCert == 0 && nToken == 0:
		if creds.Type == "" {
			writeError(w, r, api.Logger, relayerr.WithFields(relayerr.KindInvalidCredentialCombination,
				formField("certificate", "a certificate or token key set is required before topic changes"),
				formField("private_key", "a certificate or token key set is required before topic changes")))
			return
		}
		if len(values) == 0 {
			writeError(w, r, api.Logger, relayerr.WithFields(relayerr.KindInvalidCredentialCombination,
				formField("topic", "nothing to update")))
			return
		}
	default:
		writeError(w, r, api.Logger, combinationError(values))
		return
	}

	if topic, ok := values["topic"]; ok {
		creds.Topic = strings.TrimSpace(string(topic))
	}
	if raw, ok := values["sandbox"]; ok {
		sandbox, err := strconv.ParseBool(string(raw))
		if err != nil {
			writeError(w, r, api.Logger, relayerr.WithFields(relayerr.KindValidation, formField("sandbox", "must be a boolean")))
			return
		}
		creds.Sandbox = sandbox
	}
	if creds.Topic == "" {
		writeError(w, r, api.Logger, relayerr.WithFields(relayerr.KindValidation, formField("topic", "required when no topic is stored")))
		return
	}

	if err := api.Checker.CheckAPNs(creds); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	if err := api.Store.UpdateAPNs(ctx, id, creds); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	api.Logger.Info("APNs credentials updated", "tenant_id", id, "type", creds.Type, "topic", creds.Topic, "sandbox", creds.Sandbox)
	api.respondTenant(w, r, id, http.StatusOK)
}

func (api *TenantAPI) UpdateFCM(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tenant_id")
	form, err := parseForm(w, r)
	if err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	apiKey, err := formBytes(form, "api_key")
	if err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	key := strings.TrimSpace(string(apiKey))
	if key == "" {
		writeError(w, r, api.Logger, relayerr.WithFields(relayerr.KindValidation, formField("api_key", "required")))
		return
	}
	if err := api.Store.UpdateFCM(r.Context(), id, key); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	api.Logger.Info("FCM key updated", "tenant_id", id)
	api.respondTenant(w, r, id, http.StatusOK)
}

// UpdateFCMV1 takes a service account JSON document as an uploaded file or a plain field.
func (api *TenantAPI) UpdateFCMV1(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("tenant_id")
	form, err := parseForm(w, r)
	if err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	credentials, err := formBytes(form, "credentials")
	if err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	if len(bytes.TrimSpace(credentials)) == 0 {
		writeError(w, r, api.Logger, relayerr.WithFields(relayerr.KindValidation, formField("credentials", "required")))
		return
	}
	if err := api.Checker.CheckFCMV1(ctx, credentials); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	if err := api.Store.UpdateFCMV1(ctx, id, credentials); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	api.Logger.Info("FCM v1 credentials updated", "tenant_id", id)
	api.respondTenant(w, r, id, http.StatusOK)
}

func parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return nil, relayerr.Newf(relayerr.KindInvalidBody, "expected a multipart form: %w", err)
	}
	return r.MultipartForm, nil
}

// formBytes reads name from an uploaded file, falling back to a plain field.
func formBytes(form *multipart.Form, name string) ([]byte, error) {
	if files := form.File[name]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, relayerr.Newf(relayerr.KindInvalidBody, "failed to open %s: %w", name, err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, relayerr.Newf(relayerr.KindInvalidBody, "failed to read %s: %w", name, err)
		}
		return data, nil
	}
	if vals := form.Value[name]; len(vals) > 0 {
		return []byte(vals[0]), nil
	}
	return nil, nil
}

func formField(name, description string) relayerr.Field {
	return relayerr.Field{Field: name, Description: description, Location: "form"}
}

func countPresent(values map[string][]byte, names []string) int {
	n := 0
	for _, name := range names {
		if _, ok := values[name]; ok {
			n++
		}
	}
	return n
}

// combinationError names the fields that make an APNs form invalid: every
// supplied credential field when both sets are mixed, otherwise the fields
// missing from the partial set.
func combinationError(values map[string][]byte) error {
	var fields []relayerr.Field
	nCert, nToken := countPresent(values, certificateFields), countPresent(values, tokenFields)
	if nCert > 0 && nToken > 0 {
		for _, name := range append(append([]string{}, certificateFields...), tokenFields...) {
			if _, ok := values[name]; ok {
				fields = append(fields, formField(name, "certificate and token credentials cannot be combined"))
			}
		}
		return relayerr.WithFields(relayerr.KindInvalidCredentialCombination, fields...)
	}

	set := certificateFields
	if nToken > 0 {
		set = tokenFields
	}
	for _, name := range set {
		if _, ok := values[name]; !ok {
			fields = append(fields, formField(name, "required with "+strings.Join(set, ", ")))
		}
	}
	return relayerr.WithFields(relayerr.KindInvalidCredentialCombination, fields...)
}
