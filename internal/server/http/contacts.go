package httpserver

import (
	"net/http"
)

type createContactRequest struct {
	User1 string `json:"user1"`
	User2 string `json:"user2"`
}

type lastMessageRequest struct {
	MessageID string `json:"messageId"`
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	u1, err := parseID(req.User1, "user1")
	if err != nil {
		writeError(w, err)
		return
	}
	u2, err := parseID(req.User2, "user2")
	if err != nil {
		writeError(w, err)
		return
	}
	c, created, err := s.deps.Contacts.Create(r.Context(), caller(r), u1, u2)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, c)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.deps.Contacts.List(r.Context(), caller(r), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contactId")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Contacts.Delete(r.Context(), caller(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Contact deleted successfully"})
}

func (s *Server) handleSetLastMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contactId")
	if err != nil {
		writeError(w, err)
		return
	}
	var req lastMessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	msgID, err := parseID(req.MessageID, "messageId")
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.deps.Contacts.SetLastMessage(r.Context(), caller(r), id, msgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
