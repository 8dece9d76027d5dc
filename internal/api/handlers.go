package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"ledgerlink-reconciliation-service/internal/connection"
	"ledgerlink-reconciliation-service/internal/reporter"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// Health reports liveness
func (a *Api) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"historyEnabled": a.service.HistoryEnabled(),
	})
}

// Reconcile runs a reconciliation and returns the result envelope
func (a *Api) Reconcile(c *gin.Context) {
	report, ok := a.run(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, report)
}

// Export runs a reconciliation and returns one category as a CSV attachment
func (a *Api) Export(c *gin.Context) {
	category, err := reporter.ParseCategory(c.DefaultQuery("category", string(reporter.CategoryPerfectMatches)))
	if err != nil {
		a.respondError(c, err)
		return
	}

	report, ok := a.run(c)
	if !ok {
		return
	}

	content, err := reporter.ExportCSV(report.Results, category)
	if err != nil {
		a.respondError(c, err)
		return
	}

	filename := category.Filename(c.Query("prefix"), report.ProcessedAt)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("X-Reconciliation-Id", report.ReconciliationID)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(content))
}

// run binds, validates and executes a reconciliation request. It writes the
// error response itself and reports whether the caller should continue.
func (a *Api) run(c *gin.Context) (*reporter.Report, bool) {
	var body ReconcileRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		a.respondError(c, errors.Wrap(err, errors.CategoryNormalization, errors.CodeInvalidFormat,
			"request body is not a valid reconciliation request").
			WithSuggestion("send a JSON object with customerId, receivables and uploadedRows"))
		return nil, false
	}
	if err := body.Validate(); err != nil {
		a.respondError(c, err)
		return nil, false
	}

	id := a.newID()
	results, err := a.service.Reconcile(c.Request.Context(), body.ToRequest())
	if err != nil {
		a.logger.WithField("reconciliation_id", id).WithError(err).Warn("Reconciliation failed")
		a.respondError(c, err)
		return nil, false
	}

	return reporter.NewReport(id, a.now(), results), true
}

// ListConnections returns every provider's connection state
func (a *Api) ListConnections(c *gin.Context) {
	statuses := []connection.Status{}
	if a.session != nil {
		statuses = a.session.Statuses()
	}
	c.JSON(http.StatusOK, gin.H{"connections": statuses})
}

// ConnectionStatus returns one provider's connection state
func (a *Api) ConnectionStatus(c *gin.Context) {
	if a.session == nil {
		a.unknownProvider(c)
		return
	}
	status, err := a.session.Status(c.Param("provider"))
	if err != nil {
		a.unknownProvider(c)
		return
	}
	c.JSON(http.StatusOK, status)
}

// RetryConnection re-checks one provider immediately
func (a *Api) RetryConnection(c *gin.Context) {
	if a.session == nil {
		a.unknownProvider(c)
		return
	}
	status, err := a.session.Trigger(c.Request.Context(), c.Param("provider"), connection.TriggerManualRetry)
	if err != nil {
		a.unknownProvider(c)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ConnectionEvent feeds a connection trigger, such as the outcome of a token
// refresh, into one provider's monitor
func (a *Api) ConnectionEvent(c *gin.Context) {
	trigger, err := connection.ParseTrigger(c.Param("trigger"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	if a.session == nil {
		a.unknownProvider(c)
		return
	}
	status, err := a.session.Trigger(c.Request.Context(), c.Param("provider"), trigger)
	if err != nil {
		a.unknownProvider(c)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (a *Api) unknownProvider(c *gin.Context) {
	err := errors.New(errors.CategoryConfiguration, errors.CodeMissingConfig,
		fmt.Sprintf("provider %q is not configured", c.Param("provider"))).
		WithContext("provider", c.Param("provider"))
	c.JSON(http.StatusNotFound, gin.H{"error": err})
}

func (a *Api) respondError(c *gin.Context, err error) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verrs})
		return
	}

	re, ok := errors.AsReconcilerError(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": errors.New(errors.CategoryInternal, errors.CodeUnexpectedError, "internal error"),
		})
		return
	}
	c.JSON(statusFor(re), gin.H{"error": re})
}

// statusFor maps an error onto an HTTP status
func statusFor(err *errors.ReconcilerError) int {
	switch {
	case err.Code == errors.CodeEmptyInput:
		return http.StatusUnprocessableEntity
	case err.Category == errors.CategoryConfiguration:
		return http.StatusBadRequest
	case err.Category == errors.CategoryNormalization:
		return http.StatusBadRequest
	case err.Code == errors.CodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
