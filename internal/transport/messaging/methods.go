package messaging

import (
	"context"
	"encoding/json"
)

// Request/response payload shapes for each NATS method.

type addUserRequest struct {
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	Groups     []string `json:"groups"`
	ForceReset bool     `json:"force_reset"`
}

type deleteUserRequest struct {
	Username string `json:"username"`
}

type listUsersResponse struct {
	Usernames []string `json:"usernames"`
}

type getUserRequest struct {
	Username string `json:"username"`
}

type userRecordResponse struct {
	Username           string   `json:"username"`
	Groups             []string `json:"groups"`
	NeedsPasswordReset bool     `json:"needs_password_reset"`
}

type addGroupsRequest struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups"`
}

type removeGroupsRequest struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups"`
}

type setPasswordRequest struct {
	Username    string `json:"username"`
	NewPassword string `json:"new_password"`
	ForceReset  bool   `json:"force_reset"`
}

type forceResetRequest struct {
	Username string `json:"username"`
}

type verifyRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyResponse struct {
	Valid              bool     `json:"valid"`
	Message            string   `json:"message"`
	NeedsPasswordReset bool     `json:"needs_password_reset"`
	Groups             []string `json:"groups"`
}

type changePasswordRequest struct {
	Username    string `json:"username"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func decodeRequest[T any](raw json.RawMessage) (T, error) {
	var req T
	err := json.Unmarshal(raw, &req)
	return req, err
}

func (s *Server) adminDispatch() map[string]dispatchFunc {
	return map[string]dispatchFunc{
		"add_user": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[addUserRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			if err := s.admin.Add(ctx, req.Username, req.Password, req.Groups, req.ForceReset); err != nil {
				return nil, "", err
			}
			return nil, ackMessage, nil
		},
		"delete_user": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[deleteUserRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			if err := s.admin.Delete(ctx, req.Username); err != nil {
				return nil, "", err
			}
			return nil, ackMessage, nil
		},
		"list_users": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			usernames, err := s.admin.List(ctx)
			if err != nil {
				return nil, "", err
			}
			return listUsersResponse{Usernames: usernames}, ackMessage, nil
		},
		"get_user": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[getUserRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			view, err := s.admin.Get(ctx, req.Username)
			if err != nil {
				return nil, "", err
			}
			return userRecordResponse{Username: view.Username, Groups: view.Groups, NeedsPasswordReset: view.NeedsPasswordReset}, ackMessage, nil
		},
		"add_groups": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[addGroupsRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			view, err := s.admin.AddGroups(ctx, req.Username, req.Groups)
			if err != nil {
				return nil, "", err
			}
			return userRecordResponse{Username: view.Username, Groups: view.Groups, NeedsPasswordReset: view.NeedsPasswordReset}, ackMessage, nil
		},
		"remove_groups": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[removeGroupsRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			view, err := s.admin.RemoveGroups(ctx, req.Username, req.Groups)
			if err != nil {
				return nil, "", err
			}
			return userRecordResponse{Username: view.Username, Groups: view.Groups, NeedsPasswordReset: view.NeedsPasswordReset}, ackMessage, nil
		},
		"set_password": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[setPasswordRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			if err := s.admin.SetPassword(ctx, req.Username, req.NewPassword, req.ForceReset); err != nil {
				return nil, "", err
			}
			return nil, ackMessage, nil
		},
		"force_reset": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[forceResetRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			if err := s.admin.ForceReset(ctx, req.Username); err != nil {
				return nil, "", err
			}
			return nil, ackMessage, nil
		},
	}
}

func (s *Server) userDispatch() map[string]dispatchFunc {
	return map[string]dispatchFunc{
		"verify": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[verifyRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			res, err := s.user.Verify(ctx, req.Username, req.Password)
			if err != nil {
				return nil, "", err
			}
			// The query itself succeeded even when the credentials did
			// not: envelope success=true, res.Valid carries the verdict.
			// A failed verify is not a transport-level error.
			return verifyResponse{
				Valid:              res.Valid,
				Message:            res.Message,
				NeedsPasswordReset: res.NeedsPasswordReset,
				Groups:             res.Groups,
			}, ackMessage, nil
		},
		"change_password": func(ctx context.Context, raw json.RawMessage) (any, string, error) {
			req, err := decodeRequest[changePasswordRequest](raw)
			if err != nil {
				return nil, "", badRequest(err)
			}
			if err := s.user.ChangePassword(ctx, req.Username, req.OldPassword, req.NewPassword); err != nil {
				return nil, "", err
			}
			return nil, ackMessage, nil
		},
	}
}
