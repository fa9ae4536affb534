package retcode

// 业务码：1 成功，负数失败；HTTP 状态码除 guard 加载中(202)外一律 200
const (
	SUCCESS              = 1
	INVALID              = -1
	DB_SAVE_ERROR        = -2
	DB_READ_ERROR        = -3
	LOGIN_ERROR          = -7
	NOT_EXISTS           = -8
	JSON_PARSE_FAIL      = -9
	EMPTY_PARAMS         = -12
	DATA_EXISTS          = -13
	AUTH_ERROR           = -14
	FORBIDDEN            = -15
	RECORD_NOT_FOUND     = -19
	DELETE_FAILED        = -20
	UPDATE_FAILED        = -22
	SESSION_LOADING      = -30
	SESSION_LOAD_FAILED  = -31
	SAVE_IN_FLIGHT       = -32
	UPSTREAM_ERROR       = -40
	PARAM_INVALID        = -995
	ACCESS_TOKEN_TIMEOUT = -996
	SESSION_TIMEOUT      = -997
	UNKNOWN              = -998
	EXCEPTION            = -999
)

type CodeInfo struct {
	Code    int
	Message string
}

func All() map[string]CodeInfo {
	return map[string]CodeInfo{
		"SUCCESS":              {SUCCESS, "请求成功"},
		"INVALID":              {INVALID, "非法操作"},
		"DB_SAVE_ERROR":        {DB_SAVE_ERROR, "数据存储失败"},
		"DB_READ_ERROR":        {DB_READ_ERROR, "数据读取失败"},
		"LOGIN_ERROR":          {LOGIN_ERROR, "登录失败"},
		"NOT_EXISTS":           {NOT_EXISTS, "不存在"},
		"JSON_PARSE_FAIL":      {JSON_PARSE_FAIL, "JSON数据格式错误"},
		"EMPTY_PARAMS":         {EMPTY_PARAMS, "丢失必要数据"},
		"DATA_EXISTS":          {DATA_EXISTS, "数据已经存在"},
		"AUTH_ERROR":           {AUTH_ERROR, "权限认证失败"},
		"FORBIDDEN":            {FORBIDDEN, "无权访问"},
		"RECORD_NOT_FOUND":     {RECORD_NOT_FOUND, "记录未找到"},
		"DELETE_FAILED":        {DELETE_FAILED, "删除失败"},
		"UPDATE_FAILED":        {UPDATE_FAILED, "更新记录失败"},
		"SESSION_LOADING":      {SESSION_LOADING, "数据加载中"},
		"SESSION_LOAD_FAILED":  {SESSION_LOAD_FAILED, "数据加载失败"},
		"SAVE_IN_FLIGHT":       {SAVE_IN_FLIGHT, "正在保存"},
		"UPSTREAM_ERROR":       {UPSTREAM_ERROR, "上游服务异常"},
		"PARAM_INVALID":        {PARAM_INVALID, "数据类型非法"},
		"ACCESS_TOKEN_TIMEOUT": {ACCESS_TOKEN_TIMEOUT, "身份令牌过期"},
		"SESSION_TIMEOUT":      {SESSION_TIMEOUT, "SESSION过期"},
		"UNKNOWN":              {UNKNOWN, "未知错误"},
		"EXCEPTION":            {EXCEPTION, "系统异常"},
	}
}
