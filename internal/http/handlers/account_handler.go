// Account lifecycle HTTP handlers.
//
//   - DELETE /me  (erase the caller's clinical identity)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DeleteAccount godoc
// @ID          deleteAccount
// @Summary     Erase the caller's data
// @Description Detaches the caller from all clinical data: cases are anonymized in place, patient messages are redacted, and the doctor link is deactivated. Review outcomes survive for clinical statistics.
// @Tags        Account
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} services.ErasureReport
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /me [delete]
func (h *Handlers) DeleteAccount(c *gin.Context) {
	report, err := h.lifecycle.ErasePatient(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}
