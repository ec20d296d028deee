package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/adevara/GoKB/internal/adapter/utils"
	"github.com/adevara/GoKB/internal/api"
)

func GetHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ChatHandler answers a question over server-sent events. The response body
// is the relayed provider stream: token deltas as they arrive, one meta
// record with sources and indexed URLs, then a terminal [DONE] marker.
func ChatHandler(w http.ResponseWriter, request *http.Request) {

	if !validateContext(request.Context()) {
		logRH.Warn("Invalid Context by request ", "remote", request.RemoteAddr)
		return
	}

	var requestData api.ChatRequest
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logRH.Error("Couldn't close the Chat handler reader :", "error", err)
		}
	}(request.Body)
	if err := json.NewDecoder(request.Body).Decode(&requestData); err != nil || !ValidateChatRequest(requestData) {
		logRH.Warn("Bad Chat Request: ", "error:", err)
		WriteErrorResponse(w, http.StatusBadRequest, requestData.ChatID, "Bad Request")
		return
	}

	chatID := requestData.ChatID
	if chatID == "" {
		chatID = utils.GetNewUUID()
		initNewChat(chatID, traceFromContext(request.Context()))
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorResponse(w, http.StatusInternalServerError, chatID, "Streaming unsupported")
		return
	}

	answerStream, err := handlerInstance.ragService.AnswerQuestion(request.Context(), chatID, requestData.Message)
	if err != nil {
		// Retrieval failures abort before any bytes go out; the client
		// gets a structured error, never a half answer.
		logRH.Error("Answer pipeline failed", "error", err)
		WriteErrorResponse(w, http.StatusInternalServerError, chatID, "Failed to process request")
		return
	}
	defer answerStream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Chat-Id", chatID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-request.Context().Done():
			// Client went away; Close cancels the provider read.
			return
		default:
		}

		event, err := answerStream.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logRH.Error("Upstream stream broke mid-answer", "error", err)
			return
		}
		if _, err := w.Write(event.Line); err != nil {
			logRH.Warn("Client write failed, dropping stream", "error", err)
			return
		}
		flusher.Flush()
	}
}
