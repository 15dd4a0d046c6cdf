// Пакет router — маршруты HTTP API Resource Coordinator поверх chi.
// ServerInterface описывает все операции контракта (internal/api/openapi),
// обёртка связывает path/query параметры в типизированные значения
// и передаёт их реализации.
package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/middleware"
)

// Типы path параметров.
type (
	ParticipantId = string
	ObjectId      = openapi_types.UUID
	TaskId        = openapi_types.UUID
	AlertId       = openapi_types.UUID
)

// ListObjectsParams — параметры GET /api/v1/storage/objects.
type ListObjectsParams struct {
	Limit  *int
	Offset *int
}

// StoreObjectParams — параметры POST /api/v1/storage/objects.
type StoreObjectParams struct {
	Name  string
	Owner string
	// Ttl — срок хранения в формате time.Duration
	Ttl *string
}

// ListTasksParams — параметры GET /api/v1/compute/tasks.
type ListTasksParams struct {
	Status *string
}

// BandwidthUsageParams — параметры GET /api/v1/bandwidth/allocations/{participantId}/usage.
type BandwidthUsageParams struct {
	Month *string
	From  *time.Time
	To    *time.Time
}

// FindNearestParams — параметры GET /api/v1/bandwidth/nearest.
type FindNearestParams struct {
	Lat   float64
	Lon   float64
	Count *int
}

// ParticipantRewardsParams — параметры GET /api/v1/participants/{participantId}/rewards.
type ParticipantRewardsParams struct {
	From *time.Time
	To   *time.Time
}

// ListAlertsParams — параметры GET /api/v1/alerts.
type ListAlertsParams struct {
	Active *bool
}

// ServerInterface — операции HTTP API.
type ServerInterface interface {
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)

	// (POST /api/v1/storage/allocations)
	RegisterStorage(w http.ResponseWriter, r *http.Request)
	// (DELETE /api/v1/storage/allocations/{participantId})
	ReleaseStorage(w http.ResponseWriter, r *http.Request, participantId ParticipantId)
	// (GET /api/v1/storage/allocations/{participantId}/verify)
	VerifyStorage(w http.ResponseWriter, r *http.Request, participantId ParticipantId)
	// (GET /api/v1/storage/objects)
	ListObjects(w http.ResponseWriter, r *http.Request, params ListObjectsParams)
	// (POST /api/v1/storage/objects)
	StoreObject(w http.ResponseWriter, r *http.Request, params StoreObjectParams)
	// (GET /api/v1/storage/objects/{objectId})
	RetrieveObject(w http.ResponseWriter, r *http.Request, objectId ObjectId)
	// (DELETE /api/v1/storage/objects/{objectId})
	DeleteObject(w http.ResponseWriter, r *http.Request, objectId ObjectId)

	// (POST /api/v1/compute/allocations)
	RegisterCompute(w http.ResponseWriter, r *http.Request)
	// (DELETE /api/v1/compute/allocations/{participantId})
	ReleaseCompute(w http.ResponseWriter, r *http.Request, participantId ParticipantId)
	// (GET /api/v1/compute/tasks)
	ListTasks(w http.ResponseWriter, r *http.Request, params ListTasksParams)
	// (POST /api/v1/compute/tasks)
	CreateTask(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/compute/tasks/{taskId})
	GetTask(w http.ResponseWriter, r *http.Request, taskId TaskId)
	// (POST /api/v1/compute/tasks/{taskId}/execute)
	ExecuteTask(w http.ResponseWriter, r *http.Request, taskId TaskId)

	// (POST /api/v1/bandwidth/allocations)
	RegisterBandwidth(w http.ResponseWriter, r *http.Request)
	// (DELETE /api/v1/bandwidth/allocations/{participantId})
	ReleaseBandwidth(w http.ResponseWriter, r *http.Request, participantId ParticipantId)
	// (GET /api/v1/bandwidth/allocations/{participantId}/usage)
	BandwidthUsage(w http.ResponseWriter, r *http.Request, participantId ParticipantId, params BandwidthUsageParams)
	// (POST /api/v1/bandwidth/transfers)
	RecordTransfer(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/bandwidth/nearest)
	FindNearest(w http.ResponseWriter, r *http.Request, params FindNearestParams)

	// (GET /api/v1/participants/{participantId}/status)
	ParticipantStatus(w http.ResponseWriter, r *http.Request, participantId ParticipantId)
	// (GET /api/v1/participants/{participantId}/rewards)
	ParticipantRewards(w http.ResponseWriter, r *http.Request, participantId ParticipantId, params ParticipantRewardsParams)
	// (GET /api/v1/participants/{participantId}/rank)
	ParticipantRank(w http.ResponseWriter, r *http.Request, participantId ParticipantId)

	// (GET /api/v1/alerts)
	ListAlerts(w http.ResponseWriter, r *http.Request, params ListAlertsParams)
	// (POST /api/v1/alerts/{alertId}/resolve)
	ResolveAlert(w http.ResponseWriter, r *http.Request, alertId AlertId)

	// (GET /api/v1/network/stats)
	NetworkStats(w http.ResponseWriter, r *http.Request)

	// (POST /api/v1/maintenance/reconcile)
	Reconcile(w http.ResponseWriter, r *http.Request)
}

// Scopes операций. scopeNone — достаточно аутентификации.
const (
	scopeNone  = ""
	scopeWrite = middleware.ScopeResourcesWrite
	scopeAdmin = middleware.ScopeMonitorAdmin
)

// ChiServerOptions — параметры регистрации маршрутов.
type ChiServerOptions struct {
	BaseRouter chi.Router
	// ErrorHandlerFunc — ответ при ошибке разбора параметров
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
	// RequireScope — middleware проверки scope (nil — проверка отключена)
	RequireScope func(scope string) func(http.Handler) http.Handler
}

// HandlerFromMux регистрирует маршруты на существующем chi.Router.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions регистрирует маршруты с заданными параметрами.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: options.ErrorHandlerFunc,
	}

	// guard оборачивает обработчик проверкой scope
	guard := func(scope string, h http.HandlerFunc) http.Handler {
		if scope == scopeNone || options.RequireScope == nil {
			return h
		}
		return options.RequireScope(scope)(h)
	}

	r.Method(http.MethodGet, "/health/live", http.HandlerFunc(si.HealthLive))
	r.Method(http.MethodGet, "/health/ready", http.HandlerFunc(si.HealthReady))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/storage", func(r chi.Router) {
			r.Method(http.MethodPost, "/allocations", guard(scopeWrite, si.RegisterStorage))
			r.Method(http.MethodDelete, "/allocations/{participantId}", guard(scopeWrite, wrapper.ReleaseStorage))
			r.Method(http.MethodGet, "/allocations/{participantId}/verify", guard(scopeNone, wrapper.VerifyStorage))
			r.Method(http.MethodGet, "/objects", guard(scopeNone, wrapper.ListObjects))
			r.Method(http.MethodPost, "/objects", guard(scopeWrite, wrapper.StoreObject))
			r.Method(http.MethodGet, "/objects/{objectId}", guard(scopeNone, wrapper.RetrieveObject))
			r.Method(http.MethodDelete, "/objects/{objectId}", guard(scopeWrite, wrapper.DeleteObject))
		})

		r.Route("/compute", func(r chi.Router) {
			r.Method(http.MethodPost, "/allocations", guard(scopeWrite, si.RegisterCompute))
			r.Method(http.MethodDelete, "/allocations/{participantId}", guard(scopeWrite, wrapper.ReleaseCompute))
			r.Method(http.MethodGet, "/tasks", guard(scopeNone, wrapper.ListTasks))
			r.Method(http.MethodPost, "/tasks", guard(scopeWrite, si.CreateTask))
			r.Method(http.MethodGet, "/tasks/{taskId}", guard(scopeNone, wrapper.GetTask))
			r.Method(http.MethodPost, "/tasks/{taskId}/execute", guard(scopeWrite, wrapper.ExecuteTask))
		})

		r.Route("/bandwidth", func(r chi.Router) {
			r.Method(http.MethodPost, "/allocations", guard(scopeWrite, si.RegisterBandwidth))
			r.Method(http.MethodDelete, "/allocations/{participantId}", guard(scopeWrite, wrapper.ReleaseBandwidth))
			r.Method(http.MethodGet, "/allocations/{participantId}/usage", guard(scopeNone, wrapper.BandwidthUsage))
			r.Method(http.MethodPost, "/transfers", guard(scopeWrite, si.RecordTransfer))
			r.Method(http.MethodGet, "/nearest", guard(scopeNone, wrapper.FindNearest))
		})

		r.Route("/participants/{participantId}", func(r chi.Router) {
			r.Method(http.MethodGet, "/status", guard(scopeNone, wrapper.ParticipantStatus))
			r.Method(http.MethodGet, "/rewards", guard(scopeNone, wrapper.ParticipantRewards))
			r.Method(http.MethodGet, "/rank", guard(scopeNone, wrapper.ParticipantRank))
		})

		r.Method(http.MethodGet, "/alerts", guard(scopeNone, wrapper.ListAlerts))
		r.Method(http.MethodPost, "/alerts/{alertId}/resolve", guard(scopeAdmin, wrapper.ResolveAlert))

		r.Method(http.MethodGet, "/network/stats", guard(scopeNone, si.NetworkStats))

		r.Method(http.MethodPost, "/maintenance/reconcile", guard(scopeAdmin, si.Reconcile))
	})

	return r
}

// ServerInterfaceWrapper связывает параметры запроса и вызывает ServerInterface.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// InvalidParamFormatError — параметр не удалось разобрать.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// RequiredParamError — отсутствует обязательный параметр.
type RequiredParamError struct {
	ParamName string
}

func (e *RequiredParamError) Error() string {
	return fmt.Sprintf("отсутствует обязательный параметр %s", e.ParamName)
}

// pathParam связывает path параметр в dest.
func pathParam(r *http.Request, name string, dest any) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		return &InvalidParamFormatError{ParamName: name, Err: err}
	}
	return nil
}

// queryParam связывает query параметр в dest.
func queryParam(r *http.Request, name string, required bool, dest any) error {
	if required && !r.URL.Query().Has(name) {
		return &RequiredParamError{ParamName: name}
	}
	if err := runtime.BindQueryParameter("form", true, required, name, r.URL.Query(), dest); err != nil {
		return &InvalidParamFormatError{ParamName: name, Err: err}
	}
	return nil
}

// participant — обработчик с параметром participantId.
func (w *ServerInterfaceWrapper) participant(
	call func(http.ResponseWriter, *http.Request, ParticipantId),
) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var participantId ParticipantId
		if err := pathParam(r, "participantId", &participantId); err != nil {
			w.ErrorHandlerFunc(rw, r, err)
			return
		}
		call(rw, r, participantId)
	}
}

// uuidParam — обработчик с UUID path параметром name.
func (w *ServerInterfaceWrapper) uuidParam(
	name string, call func(http.ResponseWriter, *http.Request, openapi_types.UUID),
) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var id openapi_types.UUID
		if err := pathParam(r, name, &id); err != nil {
			w.ErrorHandlerFunc(rw, r, err)
			return
		}
		call(rw, r, id)
	}
}

// ReleaseStorage связывает параметры DELETE /api/v1/storage/allocations/{participantId}.
func (w *ServerInterfaceWrapper) ReleaseStorage(rw http.ResponseWriter, r *http.Request) {
	w.participant(w.Handler.ReleaseStorage)(rw, r)
}

// VerifyStorage связывает параметры GET /api/v1/storage/allocations/{participantId}/verify.
func (w *ServerInterfaceWrapper) VerifyStorage(rw http.ResponseWriter, r *http.Request) {
	w.participant(w.Handler.VerifyStorage)(rw, r)
}

// ListObjects связывает параметры GET /api/v1/storage/objects.
func (w *ServerInterfaceWrapper) ListObjects(rw http.ResponseWriter, r *http.Request) {
	var params ListObjectsParams
	if err := queryParam(r, "limit", false, &params.Limit); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	if err := queryParam(r, "offset", false, &params.Offset); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	w.Handler.ListObjects(rw, r, params)
}

// StoreObject связывает параметры POST /api/v1/storage/objects.
func (w *ServerInterfaceWrapper) StoreObject(rw http.ResponseWriter, r *http.Request) {
	var params StoreObjectParams
	if err := queryParam(r, "name", true, &params.Name); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	if err := queryParam(r, "owner", true, &params.Owner); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	if err := queryParam(r, "ttl", false, &params.Ttl); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	w.Handler.StoreObject(rw, r, params)
}

// RetrieveObject связывает параметры GET /api/v1/storage/objects/{objectId}.
func (w *ServerInterfaceWrapper) RetrieveObject(rw http.ResponseWriter, r *http.Request) {
	w.uuidParam("objectId", w.Handler.RetrieveObject)(rw, r)
}

// DeleteObject связывает параметры DELETE /api/v1/storage/objects/{objectId}.
func (w *ServerInterfaceWrapper) DeleteObject(rw http.ResponseWriter, r *http.Request) {
	w.uuidParam("objectId", w.Handler.DeleteObject)(rw, r)
}

// ReleaseCompute связывает параметры DELETE /api/v1/compute/allocations/{participantId}.
func (w *ServerInterfaceWrapper) ReleaseCompute(rw http.ResponseWriter, r *http.Request) {
	w.participant(w.Handler.ReleaseCompute)(rw, r)
}

// ListTasks связывает параметры GET /api/v1/compute/tasks.
func (w *ServerInterfaceWrapper) ListTasks(rw http.ResponseWriter, r *http.Request) {
	var params ListTasksParams
	if err := queryParam(r, "status", false, &params.Status); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	w.Handler.ListTasks(rw, r, params)
}

// GetTask связывает параметры GET /api/v1/compute/tasks/{taskId}.
func (w *ServerInterfaceWrapper) GetTask(rw http.ResponseWriter, r *http.Request) {
	w.uuidParam("taskId", w.Handler.GetTask)(rw, r)
}

// ExecuteTask связывает параметры POST /api/v1/compute/tasks/{taskId}/execute.
func (w *ServerInterfaceWrapper) ExecuteTask(rw http.ResponseWriter, r *http.Request) {
	w.uuidParam("taskId", w.Handler.ExecuteTask)(rw, r)
}

// ReleaseBandwidth связывает параметры DELETE /api/v1/bandwidth/allocations/{participantId}.
func (w *ServerInterfaceWrapper) ReleaseBandwidth(rw http.ResponseWriter, r *http.Request) {
	w.participant(w.Handler.ReleaseBandwidth)(rw, r)
}

// BandwidthUsage связывает параметры GET /api/v1/bandwidth/allocations/{participantId}/usage.
func (w *ServerInterfaceWrapper) BandwidthUsage(rw http.ResponseWriter, r *http.Request) {
	var participantId ParticipantId
	if err := pathParam(r, "participantId", &participantId); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	var params BandwidthUsageParams
	if err := queryParam(r, "month", false, &params.Month); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	if err := queryParam(r, "from", false, &params.From); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	if err := queryParam(r, "to", false, &params.To); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	w.Handler.BandwidthUsage(rw, r, participantId, params)
}

// FindNearest связывает параметры GET /api/v1/bandwidth/nearest.
func (w *ServerInterfaceWrapper) FindNearest(rw http.ResponseWriter, r *http.Request) {
	var params FindNearestParams
	if err := queryParam(r, "lat", true, &params.Lat); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	if err := queryParam(r, "lon", true, &params.Lon); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	if err := queryParam(r, "count", false, &params.Count); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	w.Handler.FindNearest(rw, r, params)
}

// ParticipantStatus связывает параметры GET /api/v1/participants/{participantId}/status.
func (w *ServerInterfaceWrapper) ParticipantStatus(rw http.ResponseWriter, r *http.Request) {
	w.participant(w.Handler.ParticipantStatus)(rw, r)
}

// ParticipantRewards связывает параметры GET /api/v1/participants/{participantId}/rewards.
func (w *ServerInterfaceWrapper) ParticipantRewards(rw http.ResponseWriter, r *http.Request) {
	var participantId ParticipantId
	if err := pathParam(r, "participantId", &participantId); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	var params ParticipantRewardsParams
	if err := queryParam(r, "from", false, &params.From); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	if err := queryParam(r, "to", false, &params.To); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	w.Handler.ParticipantRewards(rw, r, participantId, params)
}

// ParticipantRank связывает параметры GET /api/v1/participants/{participantId}/rank.
func (w *ServerInterfaceWrapper) ParticipantRank(rw http.ResponseWriter, r *http.Request) {
	w.participant(w.Handler.ParticipantRank)(rw, r)
}

// ListAlerts связывает параметры GET /api/v1/alerts.
func (w *ServerInterfaceWrapper) ListAlerts(rw http.ResponseWriter, r *http.Request) {
	var params ListAlertsParams
	if err := queryParam(r, "active", false, &params.Active); err != nil {
		w.ErrorHandlerFunc(rw, r, err)
		return
	}
	w.Handler.ListAlerts(rw, r, params)
}

// ResolveAlert связывает параметры POST /api/v1/alerts/{alertId}/resolve.
func (w *ServerInterfaceWrapper) ResolveAlert(rw http.ResponseWriter, r *http.Request) {
	w.uuidParam("alertId", w.Handler.ResolveAlert)(rw, r)
}
