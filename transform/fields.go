package transform

import "github.com/geekane/1127jixiao/etl"

// FieldMapping maps export column labels to canonical field names. Columns
// not listed here are dropped.
var FieldMapping = map[string]string{
	"数据日期范围":      etl.FieldDateRange,
	"门店名称":        etl.FieldStoreName,
	"门店ID":        etl.FieldStoreID,
	"所在区域":        "area",
	"所在省份":        "province",
	"所在城市":        "city",
	"所在行政区":       "district",
	"门店页访问人数":     "page_visit_users",
	"人均访问次数":      "avg_visit_times",
	"货架商品点击次数":    "shelf_item_click_times",
	"货架商品点击人数":    "shelf_item_click_users",
	"门店页成交人数":     "page_deal_users",
	"门店页成交金额":     "page_deal_amount",
	"门店页成交后退款金额":  "refund_amount",
	"门店页成交后退款券数":  "refund_coupon_count",
	"门店页成交后退款人数":  "refund_users",
	"门店页成交券数":     "deal_coupon_count",
	"访问-成交次数转化率":  "visit_to_deal_times_rate",
	"访问-成交人数转化率":  "visit_to_deal_users_rate",
	"门店页访问次数":     "page_visit_times",
	"门店关联视频数":     "related_video_count",
	"门店关联视频播放次数":  "related_video_play_times",
	"门店页转化标签":     "conversion_tag",
	"门店意向成交金额":    "intent_deal_amount",
	"门店意向成交券数":    "intent_deal_coupon_count",
	"门店意向成交人数":    "intent_deal_users",
	"门店核销金额":      etl.FieldVerifyAmount,
	"门店核销人数":      "verify_users",
	"门店核销券数":      "verify_coupon_count",
	"门店核销新客数":     "verify_new_users",
	"门店核销老客数":     "verify_old_users",
	"门店意向退款金额":    "intent_refund_amount",
	"门店意向退款券数":    "intent_refund_coupon_count",
	"门店意向退款人数":    "intent_refund_users",
	"门店评分":        "store_score",
	"门店经营分":       etl.FieldOperationScore,
	"新增评价数":       "new_review_count",
	"新增好评数":       "new_good_review_count",
	"新增中差评数":      "new_bad_review_count",
	"消费后评价数":      "review_after_consume_count",
	"评价回复率":       "review_reply_rate",
	"经营风险差评率":     "risk_bad_review_rate",
	"经营风险投诉率":     "risk_complaint_rate",
	"经营风险商责退单率":   "risk_merchant_fault_order_rate",
	"门店点亮数":       "store_light_count",
	"点亮后的投稿数":     "light_after_post_count",
	"门店收藏数":       "store_favorite_count",
	"上榜榜单及排名":     "ranking_info",
}
