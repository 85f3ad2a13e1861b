package httpserver

import (
	"net/http"

	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/service"
)

type sendMessageRequest struct {
	ContactID  string   `json:"contactId"`
	SenderID   string   `json:"senderId"`
	ReceiverID string   `json:"receiverId"`
	Content    string   `json:"content"`
	FileURLs   []string `json:"fileUrl"`
}

type statusRequest struct {
	Delivered *bool `json:"delivered"`
	Read      *bool `json:"read"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var in service.SendInput
	var err error
	if in.ContactID, err = parseID(req.ContactID, "contactId"); err != nil {
		writeError(w, err)
		return
	}
	if in.SenderID, err = parseID(req.SenderID, "senderId"); err != nil {
		writeError(w, err)
		return
	}
	if in.ReceiverID, err = parseID(req.ReceiverID, "receiverId"); err != nil {
		writeError(w, err)
		return
	}
	in.Content, in.FileURLs = req.Content, req.FileURLs

	m, err := s.deps.Messages.Send(r.Context(), caller(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contactId")
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := s.deps.Messages.List(r.Context(), caller(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Messages.Delete(r.Context(), caller(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Message deleted successfully"})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, err)
		return
	}
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.deps.Messages.UpdateStatus(r.Context(), caller(r), id,
		model.StatusPatch{Delivered: req.Delivered, Read: req.Read})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
