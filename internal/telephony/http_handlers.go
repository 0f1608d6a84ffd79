package telephony

import (
	"net/http"
	"time"

	"call-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// InboundWebhookHandler converts the Twilio voice webhook to internal types,
// delegates the decision to the admission gate, and writes TwiML.
//
// No business logic here.

type InboundWebhookHandler struct {
	Gate AdmissionGate

	Now func() time.Time
}

func (h InboundWebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Gate == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "admission gate not configured"})
		return
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	res, err := h.Gate.DecideInbound(c.Request.Context(), form.ToInboundCall(h.Now()))
	if err != nil {
		// The gate itself fails open; an error here means even that path
		// broke. Render a plain reject so the provider gets valid TwiML.
		log.Error("admission decision failed", "call_id", form.CallSid, "err", err)
		res = InboundResult{Action: InboundActionReject}
	}

	twiml, err := RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
