package checkout

// User-facing texts. The product is sold in Colombia, so they are in Spanish.
const (
	MsgWidgetUnavailable  = "Error: Widget de pago no disponible. Recarga la página."
	MsgWidgetInvalid      = "Error: Widget de pago no válido. Recarga la página."
	MsgInvalidAmount      = "Error: El monto no es válido"
	MsgInvalidConfig      = "Error: Configuración de pago inválida"
	MsgScriptLoadFailed   = "Error: No se pudo cargar el widget de pago"
	MsgReference          = "Error: No se pudo generar la referencia de pago. Intenta nuevamente."
	MsgPendingInscription = "Error: No se pudo registrar tu inscripción. Intenta nuevamente."
	MsgSignature          = "Error: No se pudo obtener la firma de integridad"
	MsgWidgetInstance     = "Error: No se pudo crear la instancia del widget correctamente"
	MsgWidgetRuntime      = "Error en el widget de pago. Intenta nuevamente."
	MsgMissingTransaction = "Error: No se recibió información válida de la transacción"
	MsgDeclined           = "El pago fue rechazado. Verifica tu información e intenta nuevamente."
	MsgPending            = "Tu pago está siendo procesado. Recibirás una notificación cuando se complete."
	MsgUnknownStatus      = "Estado de pago desconocido. Contacta con soporte si el problema persiste."
)

// Pay button labels.
const (
	LabelProcessing  = "Procesando pago..."
	LabelLoading     = "Cargando widget..."
	LabelConfigError = "Error de configuración"
	LabelPay         = "Pagar Ahora con Wompi"
)

func messageFor(reason Reason) string {
	switch reason {
	case ReasonScriptNotReady, ReasonWidgetUnavailable:
		return MsgWidgetUnavailable
	case ReasonWidgetNotCallable:
		return MsgWidgetInvalid
	case ReasonInvalidAmount:
		return MsgInvalidAmount
	case ReasonInvalidPublicKey:
		return MsgInvalidConfig
	case ReasonScriptLoadFailed:
		return MsgScriptLoadFailed
	case ReasonReference:
		return MsgReference
	case ReasonPendingInscription:
		return MsgPendingInscription
	case ReasonSignature:
		return MsgSignature
	case ReasonWidgetInstance, ReasonWidgetOpen:
		return MsgWidgetInstance
	case ReasonWidgetRuntime:
		return MsgWidgetRuntime
	case ReasonMissingTransaction:
		return MsgMissingTransaction
	default:
		return "Error desconocido al procesar el pago"
	}
}
