package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/adevara/GoKB/internal/api"
	"github.com/adevara/GoKB/internal/feedback"
)

// PostFeedbackHandler records whether an answer helped. Accepted immediately;
// delivery to the telemetry sink happens in the background.
func PostFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		logRH.Warn("Invalid Context by request ", "remote", r.RemoteAddr)
		return
	}

	var requestData api.FeedbackRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&requestData); err != nil || requestData.ChatID == "" || requestData.Helpful == nil {
		WriteErrorResponse(w, http.StatusBadRequest, requestData.ChatID, "Bad Request")
		return
	}

	feedback.GetSink().Submit(feedback.Entry{
		ChatId:  requestData.ChatID,
		Helpful: *requestData.Helpful,
		Comment: requestData.Comment,
	})

	writeJsonResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
