package guard

// Имена правил проверки (ValidationError.Rule).
const (
	RuleURL         = "url"
	RuleProtocol    = "protocol"
	RuleDomain      = "domain"
	RuleMethod      = "method"
	RuleBodySize    = "body_size"
	RuleBodyContent = "body_content"
	RuleHeaders     = "headers"
	RuleFiles       = "files"
)

// Сообщения об ошибках. Показываются пользователю в дашборде, поэтому на французском.
const (
	MsgMissingURL       = "URL manquante"
	MsgInvalidURL       = "URL invalide"
	MsgProtocol         = "Protocole non autorisé"
	MsgDomain           = "Domaine non autorisé"
	MsgMethod           = "Méthode HTTP non autorisée"
	MsgBodyTooLarge     = "Body trop volumineux"
	MsgSuspiciousBody   = "Contenu suspect détecté"
	MsgTooManyHeaders   = "Trop de headers"
	MsgHeaderNameLong   = "Nom de header trop long"
	MsgHeaderValueLong  = "Valeur de header trop longue"
	MsgTooManyFiles     = "Trop de fichiers"
	MsgInvalidFileEntry = "Fichier invalide"
)
