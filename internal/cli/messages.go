package cli

import (
	"errors"

	"github.com/luyichen/pikapost/internal/common"
)

// Message returns the user-facing Traditional Chinese text for an error.
// Unmapped errors keep their technical text so nothing is swallowed.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, common.ErrInvalidCredentials):
		return "帳號名稱或密碼錯誤"
	case errors.Is(err, common.ErrAccountUnconfirmed):
		return "帳號尚未啟用，請查收確認信"
	case errors.Is(err, common.ErrAccountExists):
		return "此帳號名稱已被使用"
	case errors.Is(err, common.ErrRateLimited):
		return "嘗試次數過多，請稍後再試"
	case errors.Is(err, common.ErrNotAuthenticated):
		return "請先登入"
	case errors.Is(err, common.ErrValidation):
		return "輸入資料有誤：" + err.Error()
	case errors.Is(err, common.ErrNotFound):
		return "找不到指定的資料"
	case errors.Is(err, common.ErrIntegrityViolation):
		return "帳號資料異常，已自動登出"
	case errors.Is(err, common.ErrRemoteRead):
		return "讀取資料失敗，請檢查網路連線"
	case errors.Is(err, common.ErrRemoteWrite):
		return "儲存資料失敗，請稍後再試"
	default:
		return err.Error()
	}
}
