package search

// OfficeSynonyms maps office-document vocabulary to related terms, in
// priority order. Rule expansion takes at most MaxSynonymsPerWord entries
// per matched word.
//
// Keys are lowercase. Chinese keys match as substrings of the query since
// the query is not word-segmented; English keys match whole words.
var OfficeSynonyms = map[string][]string{
	// ==========================================================================
	// Devices and software
	// ==========================================================================
	"计算机":  {"电脑", "PC", "计算设备", "计算机器"},
	"电脑":   {"计算机", "PC", "笔记本", "台式机"},
	"手机":   {"移动电话", "智能机", "移动设备", "iPhone", "安卓"},
	"人工智能": {"AI", "机器智能", "智能计算", "深度学习"},
	"机器学习": {"ML", "深度学习", "神经网络", "AI"},
	"数据库":  {"DB", "数据存储", "MySQL", "数据库系统"},
	"网络":   {"互联网", "局域网", "Internet", "网络通信"},
	"软件":   {"程序", "应用", "APP", "应用程序"},
	"硬件":   {"设备", "机器", "物理设备"},

	// ==========================================================================
	// Business documents
	// ==========================================================================
	"合同": {"协议", "契约", "合约"},
	"报告": {"汇报", "总结", "文档"},
	"计划": {"方案", "规划", "安排"},
	"项目": {"工程", "任务", "课题"},
	"会议": {"讨论", "会谈", "集会"},
	"培训": {"学习", "教育", "训练"},
	"财务": {"会计", "资金", "财务报表"},
	"人事": {"人力资源", "HR", "员工"},
	"销售": {"营销", "售卖", "出售"},
	"技术": {"科技", "工艺", "方法"},
	"管理": {"治理", "管控", "经营"},

	// ==========================================================================
	// English office vocabulary
	// ==========================================================================
	"contract":   {"agreement", "deal", "合同"},
	"agreement":  {"contract", "deal", "协议"},
	"report":     {"summary", "review", "报告"},
	"plan":       {"proposal", "schedule", "计划"},
	"project":    {"program", "initiative", "项目"},
	"meeting":    {"minutes", "conference", "会议"},
	"training":   {"course", "workshop", "培训"},
	"finance":    {"accounting", "budget", "财务"},
	"financial":  {"accounting", "budget", "财务"},
	"budget":     {"forecast", "finance", "预算"},
	"invoice":    {"bill", "receipt", "发票"},
	"hr":         {"personnel", "staff", "人事"},
	"sales":      {"marketing", "revenue", "销售"},
	"computer":   {"pc", "laptop", "计算机"},
	"database":   {"db", "datastore", "数据库"},
	"software":   {"application", "app", "软件"},
	"management": {"administration", "governance", "管理"},
}
